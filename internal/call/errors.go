package call

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound reports a frame or lookup for a call ID with no live
// session, typically because the call already ended or was swept.
var ErrSessionNotFound = errors.New("call: session not found")

// Collaborator stages for CollaboratorError.
const (
	StageRecognition = "recognition"
	StageDialogue    = "dialogue"
	StageSynthesis   = "synthesis"
)

// CollaboratorError wraps a failure or timeout from one of the session's
// collaborators. The owning worker logs it, clears the processing flag and
// returns the session to listening; it never propagates to the transport.
type CollaboratorError struct {
	Stage string
	Err   error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("call: %s failed: %v", e.Stage, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }
