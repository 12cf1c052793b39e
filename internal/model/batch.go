package model

import "github.com/google/uuid"

// Outcome is the state of one generation attempt.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// Attempt is one unit of work inside a batch. It moves from PENDING to a
// terminal outcome exactly once.
type Attempt struct {
	Index       int         `json:"index"`
	Outcome     Outcome     `json:"outcome"`
	ArtifactIDs []uuid.UUID `json:"artifact_ids,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// ArtifactRef ties a stored artifact back to the attempt that produced it.
type ArtifactRef struct {
	Handle
	Attempt    int            `json:"attempt"`
	ImageIndex int            `json:"image_index"`
	MIMEType   string         `json:"mime_type"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// BatchResult is the partial-success outcome of one Request.
type BatchResult struct {
	Tier         Tier          `json:"tier"`
	AutoSelected bool          `json:"auto_selected"`
	Rule         string        `json:"rule"`
	Model        string        `json:"model"`
	Requested    int           `json:"requested"`
	Attempts     []Attempt     `json:"attempts"`
	Artifacts    []ArtifactRef `json:"artifacts"`
}

// Succeeded returns the number of attempts that finished with SUCCESS.
func (b *BatchResult) Succeeded() int {
	n := 0
	for _, a := range b.Attempts {
		if a.Outcome == OutcomeSuccess {
			n++
		}
	}
	return n
}

// Failed returns the number of attempts that finished with FAILED.
func (b *BatchResult) Failed() int {
	n := 0
	for _, a := range b.Attempts {
		if a.Outcome == OutcomeFailed {
			n++
		}
	}
	return n
}
