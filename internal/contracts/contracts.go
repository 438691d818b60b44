package contracts

import "time"

// Share event types published by the share API and consumed by the
// notification sink.
const (
	EventShareCreated         = "share.created"
	EventShareCancelled       = "share.cancelled"
	EventShareCompleted       = "share.completed"
	EventShareCostsUpdated    = "share.costs_updated"
	EventShareExpired         = "share.expired"
	EventApplicationSubmitted = "application.submitted"
	EventApplicationAccepted  = "application.accepted"
	EventApplicationRejected  = "application.rejected"
	EventApplicationWithdrawn = "application.withdrawn"
	EventParticipantLeft      = "participant.left"
)

// ShareEvent is the fire-and-forget notification record emitted after a
// successful aggregate mutation.
type ShareEvent struct {
	EventID            string    `json:"event_id"`
	ShareID            string    `json:"share_id"`
	PropertyID         string    `json:"property_id"`
	EventType          string    `json:"event_type"`
	ActorUserID        string    `json:"actor_user_id"`
	PosterID           string    `json:"poster_id"`
	ApplicantID        string    `json:"applicant_id,omitempty"`
	ApplicationID      string    `json:"application_id,omitempty"`
	CompatibilityScore int       `json:"compatibility_score,omitempty"`
	OccurredAt         time.Time `json:"occurred_at"`
	ShardID            int       `json:"shard_id"`
}
