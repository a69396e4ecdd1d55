package transfer

import (
	"fmt"

	coreerrors "github.com/davidahmann/retain/core/errors"
)

type State string

const (
	StatePending     State = "pending"
	StateDownloading State = "downloading"
	StateDownloaded  State = "downloaded"
	StateUploading   State = "uploading"
	StateAttached    State = "attached"
	StateSkipped     State = "skipped"
	StateFailed      State = "failed"
)

func allowed(from, to State) bool {
	switch from {
	case StatePending:
		// Pending -> Failed is an abort before the artifact was started.
		return to == StateDownloading || to == StateSkipped || to == StateFailed
	case StateDownloading:
		return to == StateDownloaded || to == StateFailed
	case StateDownloaded:
		return to == StateUploading || to == StateFailed
	case StateUploading:
		return to == StateAttached || to == StateFailed
	default:
		// Attached, Skipped and Failed are terminal.
		return false
	}
}

// machine tracks one artifact. It is owned by a single worker.
type machine struct {
	artifact string
	state    State
}

func newMachine(artifact string) *machine {
	return &machine{artifact: artifact, state: StatePending}
}

// to performs a validated transition; a disallowed one is a bug.
func (m *machine) to(next State) error {
	if !allowed(m.state, next) {
		return coreerrors.Wrap(
			fmt.Errorf("disallowed transition for %q: %s -> %s", m.artifact, m.state, next),
			coreerrors.CategoryInternalFailure, "invalid_transition", "", false)
	}
	m.state = next
	return nil
}
