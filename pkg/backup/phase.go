package backup

import (
	"fmt"
)

// Phase of a write.
type Phase string

const (
	PhaseIdle                     Phase = "idle"
	PhaseResolvingContainer       Phase = "resolving_container"
	PhaseCheckingExistingSnapshot Phase = "checking_existing_snapshot"
	PhaseInitiatingUpload         Phase = "initiating_upload"
	PhaseUploadingBytes           Phase = "uploading_bytes"
	PhaseDone                     Phase = "done"
	PhaseFailed                   Phase = "failed"
)

// PhaseError names the write phase an error occurred in.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// PhaseObserver is notified on every phase transition of a write.
type PhaseObserver func(Phase)

func (o PhaseObserver) enter(p Phase) {
	if o != nil {
		o(p)
	}
}
