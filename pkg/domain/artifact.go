package domain

import (
	"time"

	"github.com/mohae/deepcopy"
)

// OutputArtifact is a typed payload produced by one feature for possible
// consumption by another. It is never mutated after registration.
type OutputArtifact struct {
	ID       string     `json:"id"`
	Producer Feature    `json:"producer_feature"`
	Type     OutputType `json:"type"`
	Title    string     `json:"title"`
	Summary  string     `json:"summary,omitempty"`
	Payload  any        `json:"payload,omitempty"`
	Format   string     `json:"format,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a copy whose payload shares no memory with a.
func (a OutputArtifact) Clone() OutputArtifact {
	if a.Payload != nil {
		a.Payload = deepcopy.Copy(a.Payload)
	}
	return a
}

// ArtifactDraft is what a producing feature hands to the output registry.
type ArtifactDraft struct {
	Type    OutputType `json:"type"`
	Title   string     `json:"title"`
	Summary string     `json:"summary,omitempty"`
	Payload any        `json:"payload,omitempty"`
	Format  string     `json:"format,omitempty"`
}

// Validate checks the draft before it is stored.
func (d ArtifactDraft) Validate() error {
	if !d.Type.Valid() {
		return ErrUnknownOutputType
	}
	if d.Title == "" {
		return Invalid("title", "required")
	}
	return nil
}

// TransferRequest describes one delivery attempt. It only lives for the
// duration of that attempt.
type TransferRequest struct {
	Source     Feature        `json:"source_feature"`
	Target     Feature        `json:"target_feature"`
	Action     TransferAction `json:"action"`
	ArtifactID string         `json:"artifact_id"`
}

// TransferTarget is one eligible destination for an artifact.
type TransferTarget struct {
	Feature Feature        `json:"feature"`
	Action  TransferAction `json:"action"`
	Label   string         `json:"label"`
}

// Delivery is what a subscribed listener receives.
type Delivery struct {
	Source   Feature        `json:"source_feature"`
	Action   TransferAction `json:"action"`
	Artifact OutputArtifact `json:"artifact"`
}
