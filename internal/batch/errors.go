package batch

import (
	"errors"
	"fmt"
)

// ErrCapabilityUnsupported means the host cannot drive an NVENC encoder.
var ErrCapabilityUnsupported = errors.New("NVENC hardware encoding is not supported on this host")

// FatalKind classifies errors that stop the whole batch.
type FatalKind string

const (
	KindCapability       FatalKind = "capability_unsupported"
	KindInvalidDirectory FatalKind = "invalid_directory"
	KindTraversal        FatalKind = "traversal"
	KindSpawn            FatalKind = "spawn"
)

// FatalError aborts the batch. Per-item failures never produce one.
type FatalError struct {
	Kind FatalKind
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }
