// Package roomshare implements the room-sharing aggregate: compatibility
// scoring, per-person cost splitting, capacity enforcement and the
// application workflow. The package is pure domain logic; persistence and
// transport live in internal/app.
package roomshare

import (
	"errors"
	"strings"
	"time"
)

const (
	StatusActive    = "active"
	StatusFull      = "full"
	StatusCancelled = "cancelled"
	StatusInactive  = "inactive"
	StatusCompleted = "completed"
)

const (
	ParticipantConfirmed = "confirmed"
	ParticipantLeft      = "left"
)

const (
	ApplicationPending   = "pending"
	ApplicationAccepted  = "accepted"
	ApplicationRejected  = "rejected"
	ApplicationWithdrawn = "withdrawn"
)

const (
	MinParticipants  = 2
	MaxParticipants  = 6
	MaxMessageLength = 500
)

var (
	ErrRoomFull             = errors.New("room is full")
	ErrDuplicateApplication = errors.New("applicant already has a pending application or a seat")
	ErrApplicationNotFound  = errors.New("application not found")
	ErrInvalidState         = errors.New("application is not pending")
	ErrNotFound             = errors.New("participant not found")
	ErrInvalidCapacity      = errors.New("max participants must be between 2 and 6")
	ErrInvalidAgeRange      = errors.New("age range is malformed")
	ErrInvalidAvailability  = errors.New("available_till must be after available_from")
	ErrUnauthorized         = errors.New("user is not allowed to perform this action")
	ErrShareClosed          = errors.New("room share is no longer open")
	ErrMessageTooLong       = errors.New("message exceeds the 500 character limit")
)

// Participant is one occupied seat. Records are append-only: a participant
// who leaves is marked left, never removed.
type Participant struct {
	UserID         string    `json:"user_id"`
	JoinedAt       time.Time `json:"joined_at"`
	SharedAmount   int64     `json:"shared_amount"`
	Status         string    `json:"status"`
	OriginalPoster bool      `json:"original_poster"`
}

// PosterResponse is the poster's reply attached to a decided application.
type PosterResponse struct {
	Message     string    `json:"message"`
	RespondedAt time.Time `json:"responded_at"`
}

// Application tracks one applicant's request to join. pending is the only
// non-terminal state.
type Application struct {
	ID                 string          `json:"id"`
	ApplicantID        string          `json:"applicant_id"`
	AppliedAt          time.Time       `json:"applied_at"`
	Message            string          `json:"message"`
	Status             string          `json:"status"`
	CompatibilityScore int             `json:"compatibility_score"`
	Response           *PosterResponse `json:"response,omitempty"`
}

// Share is the consistency boundary for one room-sharing post. All mutations
// go through its methods; every mutating method ends by recomputing the
// derived cost shares and the occupancy-driven status, so the invariants hold
// after every call.
type Share struct {
	ID            string             `json:"id"`
	PropertyID    string             `json:"property_id"`
	PosterID      string             `json:"poster_id"`
	MaxSeats      int                `json:"max_participants"`
	Requirements  RequirementProfile `json:"requirements"`
	CostInputs    CostInputs         `json:"cost_inputs"`
	CostShares    CostShares         `json:"cost_shares"`
	Participants  []Participant      `json:"participants"`
	Applications  []Application      `json:"applications"`
	Status        string             `json:"status"`
	AvailableFrom time.Time          `json:"available_from"`
	AvailableTill *time.Time         `json:"available_till,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	Version       uint64             `json:"version"`
}

type NewShareParams struct {
	PropertyID    string
	PosterID      string
	MaxSeats      int
	Requirements  RequirementProfile
	CostInputs    CostInputs
	AvailableFrom time.Time
	AvailableTill *time.Time
}

// NewShare creates an active share with the poster seated as the first
// confirmed participant.
func NewShare(params NewShareParams, now time.Time, newID func() string) (*Share, error) {
	if strings.TrimSpace(params.PosterID) == "" || strings.TrimSpace(params.PropertyID) == "" {
		return nil, ErrNotFound
	}
	if params.MaxSeats < MinParticipants || params.MaxSeats > MaxParticipants {
		return nil, ErrInvalidCapacity
	}
	req := params.Requirements.normalized()
	if req.MinAge < 0 || req.MaxAge < req.MinAge {
		return nil, ErrInvalidAgeRange
	}
	if params.AvailableTill != nil && !params.AvailableTill.After(params.AvailableFrom) {
		return nil, ErrInvalidAvailability
	}

	share := &Share{
		ID:            newID(),
		PropertyID:    strings.TrimSpace(params.PropertyID),
		PosterID:      strings.TrimSpace(params.PosterID),
		MaxSeats:      params.MaxSeats,
		Requirements:  req,
		CostInputs:    params.CostInputs,
		Status:        StatusActive,
		AvailableFrom: params.AvailableFrom,
		AvailableTill: params.AvailableTill,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	share.recomputeShares()
	share.Participants = append(share.Participants, Participant{
		UserID:         share.PosterID,
		JoinedAt:       now,
		SharedAmount:   share.CostShares.RentPerPerson,
		Status:         ParticipantConfirmed,
		OriginalPoster: true,
	})
	share.recomputeStatus()
	return share, nil
}

func (s *Share) ConfirmedCount() int {
	count := 0
	for _, p := range s.Participants {
		if p.Status == ParticipantConfirmed {
			count++
		}
	}
	return count
}

func (s *Share) IsFull() bool {
	return s.ConfirmedCount() >= s.MaxSeats
}

func (s *Share) AvailableSlots() int {
	slots := s.MaxSeats - s.ConfirmedCount()
	if slots < 0 {
		return 0
	}
	return slots
}

// IsTerminal reports whether the share has reached a state that freezes all
// participant and application mutation.
func (s *Share) IsTerminal() bool {
	switch s.Status {
	case StatusCancelled, StatusInactive, StatusCompleted:
		return true
	default:
		return false
	}
}

func (s *Share) recomputeShares() {
	s.CostShares = SplitCosts(s.CostInputs, s.MaxSeats)
}

// recomputeStatus derives the lifecycle status from occupancy. Terminal
// states are never overridden. A share whose last confirmed participant left
// has nobody left to administer it and is cancelled.
func (s *Share) recomputeStatus() {
	if s.IsTerminal() {
		return
	}
	switch count := s.ConfirmedCount(); {
	case count == 0:
		s.Status = StatusCancelled
	case count >= s.MaxSeats:
		s.Status = StatusFull
	default:
		s.Status = StatusActive
	}
}

func (s *Share) findApplication(applicationID string) *Application {
	for i := range s.Applications {
		if s.Applications[i].ID == applicationID {
			return &s.Applications[i]
		}
	}
	return nil
}

func (s *Share) hasPendingApplication(applicantID string) bool {
	for _, app := range s.Applications {
		if app.ApplicantID == applicantID && app.Status == ApplicationPending {
			return true
		}
	}
	return false
}

func (s *Share) isConfirmedParticipant(userID string) bool {
	for _, p := range s.Participants {
		if p.UserID == userID && p.Status == ParticipantConfirmed {
			return true
		}
	}
	return false
}

// SubmitApplication records a pending application with the compatibility
// score computed at submission time against the current rent share.
func (s *Share) SubmitApplication(applicantID, message string, profile ApplicantProfile, now time.Time, newID func() string) (*Application, error) {
	applicantID = strings.TrimSpace(applicantID)
	if applicantID == "" {
		return nil, ErrUnauthorized
	}
	if s.IsTerminal() {
		return nil, ErrShareClosed
	}
	message = strings.TrimSpace(message)
	if len(message) > MaxMessageLength {
		return nil, ErrMessageTooLong
	}
	if s.isConfirmedParticipant(applicantID) {
		return nil, ErrDuplicateApplication
	}
	if s.hasPendingApplication(applicantID) {
		return nil, ErrDuplicateApplication
	}
	if s.IsFull() {
		return nil, ErrRoomFull
	}

	application := Application{
		ID:                 newID(),
		ApplicantID:        applicantID,
		AppliedAt:          now,
		Message:            message,
		Status:             ApplicationPending,
		CompatibilityScore: Score(s.Requirements, profile, s.CostShares.RentPerPerson),
	}
	s.Applications = append(s.Applications, application)
	s.UpdatedAt = now
	return s.findApplication(application.ID), nil
}

// Respond decides a pending application. Only the poster may respond.
// Accepting re-checks fullness: if the last seat was taken since the
// application went pending, the decision is converted to an implicit
// rejection and ErrRoomFull is returned so the caller learns the real
// outcome instead of a silent accept.
func (s *Share) Respond(applicationID, byUserID string, accept bool, message string, now time.Time) (*Application, error) {
	if byUserID != s.PosterID {
		return nil, ErrUnauthorized
	}
	if s.IsTerminal() {
		return nil, ErrShareClosed
	}
	application := s.findApplication(applicationID)
	if application == nil {
		return nil, ErrApplicationNotFound
	}
	if application.Status != ApplicationPending {
		return nil, ErrInvalidState
	}

	response := &PosterResponse{Message: strings.TrimSpace(message), RespondedAt: now}

	if !accept {
		application.Status = ApplicationRejected
		application.Response = response
		s.UpdatedAt = now
		return application, nil
	}

	if s.IsFull() {
		application.Status = ApplicationRejected
		if response.Message == "" {
			response.Message = "room is already full"
		}
		application.Response = response
		s.UpdatedAt = now
		return application, ErrRoomFull
	}

	application.Status = ApplicationAccepted
	application.Response = response
	if err := s.addParticipant(application.ApplicantID, now); err != nil {
		return nil, err
	}
	return application, nil
}

// addParticipant seats a user, snapshotting the rent share they join at.
// Later share recomputation does not rewrite that snapshot.
func (s *Share) addParticipant(userID string, now time.Time) error {
	if s.IsFull() {
		return ErrRoomFull
	}
	s.Participants = append(s.Participants, Participant{
		UserID:       userID,
		JoinedAt:     now,
		SharedAmount: s.CostShares.RentPerPerson,
		Status:       ParticipantConfirmed,
	})
	s.recomputeShares()
	s.recomputeStatus()
	s.UpdatedAt = now
	return nil
}

// Withdraw retracts a pending application. Only the original applicant may
// withdraw it.
func (s *Share) Withdraw(applicationID, byUserID string, now time.Time) (*Application, error) {
	if s.IsTerminal() {
		return nil, ErrShareClosed
	}
	application := s.findApplication(applicationID)
	if application == nil {
		return nil, ErrApplicationNotFound
	}
	if application.ApplicantID != byUserID {
		return nil, ErrUnauthorized
	}
	if application.Status != ApplicationPending {
		return nil, ErrInvalidState
	}
	application.Status = ApplicationWithdrawn
	s.UpdatedAt = now
	return application, nil
}

// RemoveParticipant marks a confirmed participant as left and frees their
// seat. The participant record stays for history.
func (s *Share) RemoveParticipant(userID string, now time.Time) error {
	if s.IsTerminal() {
		return ErrShareClosed
	}
	for i := range s.Participants {
		if s.Participants[i].UserID == userID && s.Participants[i].Status == ParticipantConfirmed {
			s.Participants[i].Status = ParticipantLeft
			s.recomputeShares()
			s.recomputeStatus()
			s.UpdatedAt = now
			return nil
		}
	}
	return ErrNotFound
}

// Cancel closes the share. Pending applications are rejected so applicants
// are not left waiting on a dead post.
func (s *Share) Cancel(byUserID string, now time.Time) error {
	if byUserID != s.PosterID {
		return ErrUnauthorized
	}
	if s.IsTerminal() {
		return ErrShareClosed
	}
	s.rejectPending("room sharing was cancelled", now)
	s.Status = StatusCancelled
	s.UpdatedAt = now
	return nil
}

// Complete marks the share as successfully concluded.
func (s *Share) Complete(byUserID string, now time.Time) error {
	if byUserID != s.PosterID {
		return ErrUnauthorized
	}
	if s.IsTerminal() {
		return ErrShareClosed
	}
	s.Status = StatusCompleted
	s.UpdatedAt = now
	return nil
}

// UpdateCosts replaces the total amounts and re-derives the per-person
// shares. Snapshots held by already-seated participants are not rewritten.
func (s *Share) UpdateCosts(byUserID string, inputs CostInputs, now time.Time) error {
	if byUserID != s.PosterID {
		return ErrUnauthorized
	}
	if s.IsTerminal() {
		return ErrShareClosed
	}
	s.CostInputs = inputs
	s.recomputeShares()
	s.UpdatedAt = now
	return nil
}

// ExpireAvailability transitions the share to inactive once its availability
// window has passed. Pending applications are rejected on the way out.
func (s *Share) ExpireAvailability(now time.Time) bool {
	if s.IsTerminal() || s.AvailableTill == nil || !now.After(*s.AvailableTill) {
		return false
	}
	s.rejectPending("room sharing is no longer available", now)
	s.Status = StatusInactive
	s.UpdatedAt = now
	return true
}

func (s *Share) rejectPending(message string, now time.Time) {
	for i := range s.Applications {
		if s.Applications[i].Status == ApplicationPending {
			s.Applications[i].Status = ApplicationRejected
			s.Applications[i].Response = &PosterResponse{Message: message, RespondedAt: now}
		}
	}
}

// Clone returns a deep copy. Repositories hand out clones so a failed save
// never leaks partial mutations into shared state.
func (s *Share) Clone() *Share {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Requirements.Preferences = append([]string(nil), s.Requirements.Preferences...)
	clone.Requirements.Lifestyle = append([]string(nil), s.Requirements.Lifestyle...)
	clone.Participants = append([]Participant(nil), s.Participants...)
	clone.Applications = make([]Application, len(s.Applications))
	for i, app := range s.Applications {
		clone.Applications[i] = app
		if app.Response != nil {
			response := *app.Response
			clone.Applications[i].Response = &response
		}
	}
	if s.AvailableTill != nil {
		till := *s.AvailableTill
		clone.AvailableTill = &till
	}
	return &clone
}
