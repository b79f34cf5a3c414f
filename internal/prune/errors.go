package prune

import (
	"errors"
	"fmt"

	"github.com/anvilprune/anvilprune/internal/nbt"
	"github.com/anvilprune/anvilprune/internal/region"
)

// ErrorKind groups failures for statistics.
type ErrorKind int

const (
	// KindIO covers open, read, write, rename and remove failures.
	KindIO ErrorKind = iota
	// KindCorruptHeader is a container too short to hold its header.
	KindCorruptHeader
	// KindDecode is a payload that cannot be located or decompressed.
	KindDecode
	// KindParse is chunk data whose activity metric cannot be read.
	KindParse
	// KindInternal is a panic recovered while processing a container.
	KindInternal

	NumErrorKinds = int(KindInternal) + 1
)

func (k ErrorKind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindCorruptHeader:
		return "corrupt_header"
	case KindDecode:
		return "decode"
	case KindParse:
		return "parse"
	case KindInternal:
		return "internal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ContainerError is a failure that stopped one container from being
// processed. The container is left as it was on disk.
type ContainerError struct {
	Kind ErrorKind
	Path string
	Op   string
	Err  error

	// Tallied is set when Err is a chunk failure already counted in the
	// container's Result.DecodeErrors.
	Tallied bool
}

func (e *ContainerError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ContainerError) Unwrap() error {
	return e.Err
}

// KindOf classifies err. Errors that are neither decode, parse nor header
// failures count as I/O.
func KindOf(err error) ErrorKind {
	var ce *ContainerError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	var parseErr *nbt.ParseError
	var decodeErr *region.DecodeError
	switch {
	case errors.Is(err, region.ErrCorruptHeader):
		return KindCorruptHeader
	case errors.As(err, &parseErr), errors.Is(err, nbt.ErrMalformed):
		return KindParse
	case errors.As(err, &decodeErr):
		return KindDecode
	default:
		return KindIO
	}
}

func containerError(path, op string, err error) *ContainerError {
	return &ContainerError{Kind: KindOf(err), Path: path, Op: op, Err: err}
}
