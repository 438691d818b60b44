package notifysink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/unistay/roomshare/internal/contracts"
)

type fakeRepository struct {
	gotEvent        contracts.ShareEvent
	gotNotification *Notification
	gotSeq          uint64
	err             error
}

func (f *fakeRepository) InsertEvent(_ context.Context, event contracts.ShareEvent, notification *Notification, eventSeq uint64) error {
	f.gotEvent = event
	f.gotNotification = notification
	f.gotSeq = eventSeq
	return f.err
}

func TestHandle_SubmittedNotifiesPoster(t *testing.T) {
	repo := &fakeRepository{}
	svc := NewService(repo)

	event := contracts.ShareEvent{
		EventID:            "evt-1",
		ShareID:            "share-1",
		PropertyID:         "prop-1",
		EventType:          contracts.EventApplicationSubmitted,
		ActorUserID:        "user-2",
		PosterID:           "user-1",
		ApplicantID:        "user-2",
		ApplicationID:      "app-1",
		CompatibilityScore: 85,
		ShardID:            532,
		OccurredAt:         time.Now().UTC(),
	}
	payload, _ := json.Marshal(event)

	if err := svc.Handle(context.Background(), payload, 42); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if repo.gotEvent.EventID != "evt-1" || repo.gotSeq != 42 {
		t.Fatalf("unexpected event in repository: %+v seq=%d", repo.gotEvent, repo.gotSeq)
	}
	if repo.gotNotification == nil || repo.gotNotification.Recipient != "user-1" {
		t.Fatalf("expected poster notification, got %+v", repo.gotNotification)
	}
	if repo.gotNotification.ID != "ntf-evt-1" {
		t.Fatalf("expected event-derived notification id, got %q", repo.gotNotification.ID)
	}
}

func TestHandle_DecisionsNotifyApplicant(t *testing.T) {
	for _, eventType := range []string{contracts.EventApplicationAccepted, contracts.EventApplicationRejected} {
		repo := &fakeRepository{}
		svc := NewService(repo)

		payload, _ := json.Marshal(contracts.ShareEvent{
			EventID:     "evt-2",
			ShareID:     "share-1",
			EventType:   eventType,
			ActorUserID: "user-1",
			PosterID:    "user-1",
			ApplicantID: "user-2",
			OccurredAt:  time.Now().UTC(),
		})
		if err := svc.Handle(context.Background(), payload, 7); err != nil {
			t.Fatalf("%s: Handle returned error: %v", eventType, err)
		}
		if repo.gotNotification == nil || repo.gotNotification.Recipient != "user-2" {
			t.Fatalf("%s: expected applicant notification, got %+v", eventType, repo.gotNotification)
		}
	}
}

func TestHandle_CreatedRecordsWithoutNotification(t *testing.T) {
	repo := &fakeRepository{}
	svc := NewService(repo)

	payload, _ := json.Marshal(contracts.ShareEvent{
		EventID:    "evt-3",
		ShareID:    "share-1",
		EventType:  contracts.EventShareCreated,
		PosterID:   "user-1",
		OccurredAt: time.Now().UTC(),
	})
	if err := svc.Handle(context.Background(), payload, 1); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if repo.gotEvent.EventID != "evt-3" {
		t.Fatalf("expected event recorded, got %+v", repo.gotEvent)
	}
	if repo.gotNotification != nil {
		t.Fatalf("expected no notification, got %+v", repo.gotNotification)
	}
}

func TestHandle_InvalidPayload(t *testing.T) {
	svc := NewService(&fakeRepository{})
	if err := svc.Handle(context.Background(), []byte("{invalid"), 1); !errors.Is(err, ErrInvalidEventPayload) {
		t.Fatalf("expected ErrInvalidEventPayload, got %v", err)
	}
}

func TestHandle_UnsupportedEventType(t *testing.T) {
	svc := NewService(&fakeRepository{})
	payload, _ := json.Marshal(contracts.ShareEvent{EventID: "evt-4", EventType: "share.renamed"})
	if err := svc.Handle(context.Background(), payload, 1); !errors.Is(err, ErrUnsupportedEventType) {
		t.Fatalf("expected ErrUnsupportedEventType, got %v", err)
	}
}
