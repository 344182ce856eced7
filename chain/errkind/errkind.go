// Package errkind defines the semantic error kinds chain, client and
// doomslug classify failures into, so callers branch on kind rather than on
// error-string matching (spec.md §7).
package errkind

import "github.com/pkg/errors"

// Kind is one of the semantic error categories spec.md §7 enumerates.
type Kind int

const (
	Other Kind = iota
	DBNotFound
	InvalidBlock
	InvalidChunk
	InvalidChunkProofs
	InvalidChunkState
	NotAValidator
	ChunkMissing
	Orphan
	BlockKnown
	EpochOutOfBounds
	BlockProducer
	ChunkProducer
)

func (k Kind) String() string {
	switch k {
	case DBNotFound:
		return "DBNotFound"
	case InvalidBlock:
		return "InvalidBlock"
	case InvalidChunk:
		return "InvalidChunk"
	case InvalidChunkProofs:
		return "InvalidChunkProofs"
	case InvalidChunkState:
		return "InvalidChunkState"
	case NotAValidator:
		return "NotAValidator"
	case ChunkMissing:
		return "ChunkMissing"
	case Orphan:
		return "Orphan"
	case BlockKnown:
		return "BlockKnown"
	case EpochOutOfBounds:
		return "EpochOutOfBounds"
	case BlockProducer:
		return "BlockProducer"
	case ChunkProducer:
		return "ChunkProducer"
	default:
		return "Other"
	}
}

// Error pairs a Kind with a wrapped cause.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// New wraps cause with kind, using pkg/errors so callers can still extract a
// stack trace via errors.Cause/errors.StackTracer.
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: errors.WithStack(cause)}
}

// Is reports whether err (or anything it wraps) carries kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ke, ok := err.(*Error); ok {
			e = ke
			break
		}
		err = errors.Unwrap(err)
	}
	return e != nil && e.Kind == kind
}
