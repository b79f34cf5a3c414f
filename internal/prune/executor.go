package prune

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/anvilprune/anvilprune/internal/logging"
	"github.com/anvilprune/anvilprune/internal/nbt"
	"github.com/anvilprune/anvilprune/internal/region"
)

// Options controls how containers are pruned.
type Options struct {
	// Threshold is the minimum activity metric, in ticks, for a chunk to be kept.
	Threshold int64
	// DryRun classifies and reports without touching any file.
	DryRun bool
	// DeleteRegions removes containers that have no chunk left to keep.
	DeleteRegions bool
	// OnChunkError decides the fate of unreadable chunks.
	OnChunkError ChunkErrorPolicy
}

// Archiver stores a copy of a container before it is modified or deleted.
type Archiver interface {
	Archive(ctx context.Context, path string) error
}

// Executor prunes single containers. It holds no per-container state and may
// be shared by workers.
type Executor struct {
	opts     Options
	archiver Archiver
}

// NewExecutor creates an executor. archiver may be nil.
func NewExecutor(opts Options, archiver Archiver) *Executor {
	return &Executor{opts: opts, archiver: archiver}
}

// Options returns the executor's options.
func (e *Executor) Options() Options {
	return e.opts
}

// Process classifies every populated chunk of the container at path and applies
// the result: the file is deleted when whole-container mode finds nothing to
// keep, compacted when some chunks are inactive, and left untouched otherwise.
//
// A failure stops work on this container only; the returned error is a
// *ContainerError and the file is as it was. The Result is always populated with
// what was observed, and carries the same error.
func (e *Executor) Process(ctx context.Context, path string) (Result, error) {
	start := time.Now()
	res := Result{Path: path, DryRun: e.opts.DryRun}
	log := logging.FromCtx(ctx).With(map[string]any{"path": path})

	err := e.process(ctx, log, path, &res)
	res.Duration = time.Since(start)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = err
		log.Warnf("container failed", map[string]any{
			"op":    err.Op,
			"kind":  err.Kind.String(),
			"error": err.Err.Error(),
		})
		return res, err
	}

	log.Debugf("container processed", map[string]any{
		"outcome":   res.Outcome.String(),
		"kept":      res.ChunksKept,
		"deleted":   res.ChunksDeleted,
		"reclaimed": res.BytesReclaimed,
		"dryRun":    res.DryRun,
	})
	return res, nil
}

func (e *Executor) process(ctx context.Context, log *logging.Logger, path string, res *Result) *ContainerError {
	c, err := region.Open(path, e.opts.DryRun)
	if err != nil {
		return containerError(path, "open", err)
	}
	defer c.Close()
	res.OriginalSize = c.Size()

	populated := c.Header().Populated()
	keep := make([]int, 0, len(populated))
	// dropped slots whose payload lives in a .mcc file
	var externalDropped []int
	var unreadable [region.SlotCount]bool

	for _, slot := range populated {
		res.ChunksScanned++
		decodeErrors := res.DecodeErrors
		d, external := e.classify(c, log, slot, res)
		unreadable[slot] = res.DecodeErrors > decodeErrors
		if d == Keep {
			keep = append(keep, slot)
			res.ChunksKept++
		} else {
			res.ChunksDeleted++
			if external {
				externalDropped = append(externalDropped, slot)
			}
		}
	}

	if e.opts.DeleteRegions && len(keep) == 0 {
		return e.deleteContainer(ctx, log, c, externalDropped, res)
	}
	if res.ChunksDeleted == 0 {
		res.Outcome = OutcomeUnchanged
		res.NewSize = res.OriginalSize
		return nil
	}
	if ce := e.compact(ctx, log, c, keep, externalDropped, res); ce != nil {
		var de *region.DecodeError
		ce.Tallied = errors.As(ce.Err, &de) && unreadable[de.Slot]
		return ce
	}
	return nil
}

// classify decides the fate of one slot and reports whether its payload is
// stored externally. Unreadable chunks are decided by the chunk error policy.
func (e *Executor) classify(c *region.Container, log *logging.Logger, slot int, res *Result) (Decision, bool) {
	p, err := c.ReadPayload(slot)
	if err != nil {
		res.DecodeErrors++
		return e.chunkFailed(log, slot, KindDecode, err), false
	}
	data, err := region.Decompress(p.Scheme, p.Data)
	if err != nil {
		res.DecodeErrors++
		return e.chunkFailed(log, slot, KindDecode, err), p.External
	}
	metric, found, err := nbt.InhabitedTime(data)
	if err != nil {
		res.ParseErrors++
		return e.chunkFailed(log, slot, KindParse, err), p.External
	}

	d := Decide(metric, e.opts.Threshold)
	if log.Enabled(logging.LevelTrace) {
		x, z := region.SlotCoords(slot)
		log.Tracef("chunk classified", map[string]any{
			"x":             x,
			"z":             z,
			"inhabitedTime": metric,
			"found":         found,
			"scheme":        p.Scheme.String(),
			"decision":      d.String(),
		})
	}
	return d, p.External
}

func (e *Executor) chunkFailed(log *logging.Logger, slot int, kind ErrorKind, err error) Decision {
	d := e.opts.OnChunkError.decision()
	x, z := region.SlotCoords(slot)
	log.Warnf("unreadable chunk", map[string]any{
		"x":        x,
		"z":        z,
		"kind":     kind.String(),
		"error":    err.Error(),
		"decision": d.String(),
	})
	return d
}

func (e *Executor) deleteContainer(ctx context.Context, log *logging.Logger, c *region.Container, external []int, res *Result) *ContainerError {
	path := c.Path()
	res.Outcome = OutcomeDeleted
	res.NewSize = 0
	res.BytesReclaimed = res.OriginalSize

	if e.opts.DryRun {
		res.ExternalRemoved = len(external)
		return nil
	}

	if err := e.archive(ctx, path); err != nil {
		return err
	}
	if err := c.Close(); err != nil {
		return containerError(path, "close", err)
	}
	if err := os.Remove(path); err != nil {
		return containerError(path, "remove", err)
	}
	res.ExternalRemoved = removeExternal(log, path, external)
	return nil
}

func (e *Executor) compact(ctx context.Context, log *logging.Logger, c *region.Container, keep, dropped []int, res *Result) *ContainerError {
	path := c.Path()
	layout, err := c.Plan(keep)
	if err != nil {
		return containerError(path, "plan", err)
	}
	res.Outcome = OutcomeRewritten
	res.NewSize = layout.Size
	res.BytesReclaimed = res.OriginalSize - layout.Size

	if e.opts.DryRun {
		res.ExternalRemoved = len(dropped)
		return nil
	}

	if err := e.archive(ctx, path); err != nil {
		return err
	}
	if err := c.WriteCompacted(layout); err != nil {
		return containerError(path, "compact", err)
	}
	res.ExternalRemoved = removeExternal(log, path, dropped)
	return nil
}

func (e *Executor) archive(ctx context.Context, path string) *ContainerError {
	if e.archiver == nil {
		return nil
	}
	if err := e.archiver.Archive(ctx, path); err != nil {
		return &ContainerError{Kind: KindIO, Path: path, Op: "backup", Err: err}
	}
	return nil
}

// removeExternal deletes the .mcc files of dropped slots after the container no
// longer references them. Failures are logged; the container change stands.
func removeExternal(log *logging.Logger, path string, slots []int) int {
	removed := 0
	for _, slot := range slots {
		ext, err := region.ExternalPath(path, slot)
		if err == nil {
			err = os.Remove(ext)
		}
		if err == nil {
			removed++
			continue
		}
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		log.Warnf("removing external chunk failed", map[string]any{
			"slot":  slot,
			"error": err.Error(),
		})
	}
	return removed
}
