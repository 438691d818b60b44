package notifysink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/unistay/roomshare/internal/contracts"
)

var ErrInvalidEventPayload = errors.New("invalid event payload")
var ErrUnsupportedEventType = errors.New("unsupported event type")

// Notification is one inbox entry for a single user, derived from a share
// event. Its ID is derived from the event ID so redelivery stays idempotent.
type Notification struct {
	ID        string
	Recipient string
	Message   string
}

type Repository interface {
	InsertEvent(ctx context.Context, event contracts.ShareEvent, notification *Notification, eventSeq uint64) error
}

type Service struct {
	Repository Repository
}

func NewService(repository Repository) *Service {
	return &Service{Repository: repository}
}

func (s *Service) Handle(ctx context.Context, payload []byte, eventSeq uint64) error {
	var event contracts.ShareEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return ErrInvalidEventPayload
	}
	notification, err := notificationFor(event)
	if err != nil {
		return err
	}
	return s.Repository.InsertEvent(ctx, event, notification, eventSeq)
}

// notificationFor decides who hears about an event. Application decisions go
// to the applicant; everything that changes the poster's room goes to the
// poster. share.created is recorded but notifies nobody.
func notificationFor(event contracts.ShareEvent) (*Notification, error) {
	var recipient, message string
	switch event.EventType {
	case contracts.EventShareCreated:
		return nil, nil
	case contracts.EventApplicationSubmitted:
		recipient = event.PosterID
		message = fmt.Sprintf("new application for your room share (compatibility %d)", event.CompatibilityScore)
	case contracts.EventApplicationAccepted:
		recipient = event.ApplicantID
		message = "your room share application was accepted"
	case contracts.EventApplicationRejected:
		recipient = event.ApplicantID
		message = "your room share application was rejected"
	case contracts.EventApplicationWithdrawn:
		recipient = event.PosterID
		message = "an applicant withdrew their application"
	case contracts.EventParticipantLeft:
		recipient = event.PosterID
		message = "a participant left your room share"
	case contracts.EventShareCancelled:
		recipient = event.PosterID
		message = "your room share was cancelled"
	case contracts.EventShareCompleted:
		recipient = event.PosterID
		message = "your room share was completed"
	case contracts.EventShareCostsUpdated:
		recipient = event.PosterID
		message = "room share costs were updated"
	case contracts.EventShareExpired:
		recipient = event.PosterID
		message = "your room share expired and is no longer listed"
	default:
		return nil, ErrUnsupportedEventType
	}
	return &Notification{
		ID:        "ntf-" + event.EventID,
		Recipient: recipient,
		Message:   message,
	}, nil
}
