// Package prune classifies the chunks of a region container by player activity
// and removes the inactive ones, either by compacting the container or by
// deleting it outright.
package prune

import (
	"fmt"
	"strings"
)

// DefaultThreshold is the activity threshold in ticks used when none is configured.
const DefaultThreshold = 100

// Decision is the fate of one populated chunk slot.
type Decision int

const (
	Keep Decision = iota
	Delete
)

func (d Decision) String() string {
	if d == Delete {
		return "delete"
	}
	return "keep"
}

// Decide keeps a chunk whose activity metric reaches threshold.
func Decide(metric, threshold int64) Decision {
	if metric >= threshold {
		return Keep
	}
	return Delete
}

// ChunkErrorPolicy decides what happens to a chunk whose payload cannot be
// decoded or whose activity metric cannot be read.
type ChunkErrorPolicy int

const (
	// KeepOnError carries unreadable chunks over unchanged.
	KeepOnError ChunkErrorPolicy = iota
	// DeleteOnError treats unreadable chunks as inactive.
	DeleteOnError
)

func (p ChunkErrorPolicy) String() string {
	if p == DeleteOnError {
		return "delete"
	}
	return "keep"
}

// ParseChunkErrorPolicy accepts "keep" or "delete".
func ParseChunkErrorPolicy(s string) (ChunkErrorPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "keep":
		return KeepOnError, nil
	case "delete":
		return DeleteOnError, nil
	default:
		return KeepOnError, fmt.Errorf("unknown chunk error policy %q (want keep or delete)", s)
	}
}

func (p ChunkErrorPolicy) decision() Decision {
	if p == DeleteOnError {
		return Delete
	}
	return Keep
}
