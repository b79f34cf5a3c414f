package prune

import (
	"errors"
	"time"
)

// Outcome is what happened to a container.
type Outcome int

const (
	OutcomeUnchanged Outcome = iota
	OutcomeRewritten
	OutcomeDeleted
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRewritten:
		return "rewritten"
	case OutcomeDeleted:
		return "deleted"
	case OutcomeFailed:
		return "failed"
	default:
		return "unchanged"
	}
}

// Result describes the processing of one container. In dry-run mode it
// describes what would have happened.
type Result struct {
	Path    string
	Outcome Outcome
	DryRun  bool

	ChunksScanned int
	ChunksKept    int
	ChunksDeleted int
	// DecodeErrors and ParseErrors count chunks handled by the chunk error policy.
	DecodeErrors int
	ParseErrors  int

	ExternalRemoved int
	OriginalSize    int64
	NewSize         int64
	BytesReclaimed  int64

	Duration time.Duration
	// Err is the *ContainerError that stopped processing, if any.
	Err error
}

// ErrorKind returns the kind under which r's container error is counted. It
// reports false when r has no error, or when the error is a chunk failure that
// DecodeErrors already counts.
func (r Result) ErrorKind() (ErrorKind, bool) {
	if r.Err == nil {
		return 0, false
	}
	var ce *ContainerError
	if errors.As(r.Err, &ce) && ce.Tallied {
		return ce.Kind, false
	}
	return KindOf(r.Err), true
}

// Stats aggregates results. Each worker owns one; they are combined with Add
// once all workers are done.
type Stats struct {
	ContainersScanned   int64
	ContainersRewritten int64
	ContainersDeleted   int64
	ContainersUnchanged int64
	ContainersFailed    int64

	ChunksScanned int64
	ChunksKept    int64
	ChunksDeleted int64
	ChunkErrors   int64

	ExternalRemoved int64
	BytesReclaimed  int64

	// Errors counts chunk and container failures by kind.
	Errors [NumErrorKinds]int64
}

// Record folds one container result into s.
func (s *Stats) Record(r Result) {
	s.ContainersScanned++
	s.ChunksScanned += int64(r.ChunksScanned)
	s.ChunkErrors += int64(r.DecodeErrors + r.ParseErrors)
	s.Errors[KindDecode] += int64(r.DecodeErrors)
	s.Errors[KindParse] += int64(r.ParseErrors)

	if r.Err != nil {
		s.ContainersFailed++
		if k, ok := r.ErrorKind(); ok {
			s.Errors[k]++
		}
		return
	}

	switch r.Outcome {
	case OutcomeRewritten:
		s.ContainersRewritten++
	case OutcomeDeleted:
		s.ContainersDeleted++
	default:
		s.ContainersUnchanged++
	}
	s.ChunksKept += int64(r.ChunksKept)
	s.ChunksDeleted += int64(r.ChunksDeleted)
	s.ExternalRemoved += int64(r.ExternalRemoved)
	s.BytesReclaimed += r.BytesReclaimed
}

// Add merges o into s.
func (s *Stats) Add(o Stats) {
	s.ContainersScanned += o.ContainersScanned
	s.ContainersRewritten += o.ContainersRewritten
	s.ContainersDeleted += o.ContainersDeleted
	s.ContainersUnchanged += o.ContainersUnchanged
	s.ContainersFailed += o.ContainersFailed
	s.ChunksScanned += o.ChunksScanned
	s.ChunksKept += o.ChunksKept
	s.ChunksDeleted += o.ChunksDeleted
	s.ChunkErrors += o.ChunkErrors
	s.ExternalRemoved += o.ExternalRemoved
	s.BytesReclaimed += o.BytesReclaimed
	for i := range s.Errors {
		s.Errors[i] += o.Errors[i]
	}
}

// ErrorCount returns the total of Errors.
func (s Stats) ErrorCount() int64 {
	var n int64
	for _, c := range s.Errors {
		n += c
	}
	return n
}
