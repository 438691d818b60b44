package shareapi

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nuid"

	"github.com/unistay/roomshare/internal/contracts"
	"github.com/unistay/roomshare/internal/platform/metrics"
	"github.com/unistay/roomshare/internal/roomshare"
	"github.com/unistay/roomshare/internal/sharding"
)

var (
	// ErrVersionConflict is returned by repositories when a compare-and-swap
	// save loses to a concurrent writer.
	ErrVersionConflict = errors.New("share was modified concurrently")
	ErrShareNotFound   = errors.New("room share not found")
)

const (
	defaultMaxRetries = 3
	matchScanLimit    = 500
)

var (
	operationsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "roomshare_operations_total",
		Help: "Share operations by name and result.",
	}, []string{"operation", "result"})
	casConflictsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "roomshare_cas_conflicts_total",
		Help: "Optimistic-concurrency save conflicts by operation.",
	}, []string{"operation"})
	publishFailuresTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "roomshare_event_publish_failures_total",
		Help: "Share events that could not be published.",
	}, []string{"event_type"})
)

func init() {
	metrics.Default.MustRegister(operationsTotal, casConflictsTotal, publishFailuresTotal)
}

// Repository is the storage port for share aggregates. Save must be a
// compare-and-swap on the version the aggregate was loaded at, returning
// ErrVersionConflict when another writer got there first; this is what
// serializes mutations per aggregate.
type Repository interface {
	Load(ctx context.Context, shareID string) (*roomshare.Share, error)
	Save(ctx context.Context, share *roomshare.Share, expectedVersion uint64) error
	ListActive(ctx context.Context, limit int) ([]*roomshare.Share, error)
}

// ProfileSource supplies applicant profiles for scoring and matching.
// identity.Service satisfies it.
type ProfileSource interface {
	ApplicantProfile(ctx context.Context, userID string) (roomshare.ApplicantProfile, error)
}

type PublishFunc func(subject string, payload []byte) error

type Service struct {
	Repo       Repository
	Profiles   ProfileSource
	Publish    PublishFunc
	Now        func() time.Time
	NewID      func() string
	MaxRetries int
}

func NewService(repo Repository, profiles ProfileSource, publish PublishFunc) *Service {
	return &Service{
		Repo:       repo,
		Profiles:   profiles,
		Publish:    publish,
		Now:        func() time.Time { return time.Now().UTC() },
		NewID:      nuid.Next,
		MaxRetries: defaultMaxRetries,
	}
}

type CreateShareParams struct {
	PropertyID      string
	MaxParticipants int
	Requirements    roomshare.RequirementProfile
	CostInputs      roomshare.CostInputs
	AvailableFrom   time.Time
	AvailableTill   *time.Time
}

func (s *Service) CreateShare(ctx context.Context, posterID string, params CreateShareParams) (*roomshare.Share, error) {
	share, err := roomshare.NewShare(roomshare.NewShareParams{
		PropertyID:    params.PropertyID,
		PosterID:      posterID,
		MaxSeats:      params.MaxParticipants,
		Requirements:  params.Requirements,
		CostInputs:    params.CostInputs,
		AvailableFrom: params.AvailableFrom,
		AvailableTill: params.AvailableTill,
	}, s.Now(), s.NewID)
	if err != nil {
		operationsTotal.WithLabelValues("create", "error").Inc()
		return nil, err
	}
	if err := s.Repo.Save(ctx, share, 0); err != nil {
		operationsTotal.WithLabelValues("create", "error").Inc()
		return nil, err
	}
	operationsTotal.WithLabelValues("create", "ok").Inc()
	s.publishEvent(share, contracts.ShareEvent{
		EventType:   contracts.EventShareCreated,
		ActorUserID: posterID,
	})
	return share, nil
}

func (s *Service) GetShare(ctx context.Context, shareID string) (*roomshare.Share, error) {
	return s.Repo.Load(ctx, shareID)
}

func (s *Service) SubmitApplication(ctx context.Context, applicantID, shareID, message string) (*roomshare.Share, *roomshare.Application, error) {
	profile, err := s.Profiles.ApplicantProfile(ctx, applicantID)
	if err != nil {
		operationsTotal.WithLabelValues("submit", "error").Inc()
		return nil, nil, err
	}

	var submitted roomshare.Application
	share, err := s.mutate(ctx, "submit", shareID, func(share *roomshare.Share) (bool, error) {
		application, err := share.SubmitApplication(applicantID, message, profile, s.Now(), s.NewID)
		if err != nil {
			return false, err
		}
		submitted = *application
		return true, nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.publishEvent(share, contracts.ShareEvent{
		EventType:          contracts.EventApplicationSubmitted,
		ActorUserID:        applicantID,
		ApplicantID:        applicantID,
		ApplicationID:      submitted.ID,
		CompatibilityScore: submitted.CompatibilityScore,
	})
	return share, &submitted, nil
}

// RespondToApplication decides a pending application on behalf of the
// poster. A race-lost accept is persisted as a rejection and surfaces
// roomshare.ErrRoomFull alongside the updated share.
func (s *Service) RespondToApplication(ctx context.Context, posterID, shareID, applicationID string, accept bool, message string) (*roomshare.Share, error) {
	var decided roomshare.Application
	share, err := s.mutate(ctx, "respond", shareID, func(share *roomshare.Share) (bool, error) {
		application, err := share.Respond(applicationID, posterID, accept, message, s.Now())
		if application != nil {
			decided = *application
		}
		if err != nil {
			// The accept-on-full conversion mutates the application and
			// must be persisted even though the caller sees an error.
			return errors.Is(err, roomshare.ErrRoomFull), err
		}
		return true, nil
	})
	if share == nil {
		return nil, err
	}

	eventType := contracts.EventApplicationRejected
	if decided.Status == roomshare.ApplicationAccepted {
		eventType = contracts.EventApplicationAccepted
	}
	s.publishEvent(share, contracts.ShareEvent{
		EventType:          eventType,
		ActorUserID:        posterID,
		ApplicantID:        decided.ApplicantID,
		ApplicationID:      decided.ID,
		CompatibilityScore: decided.CompatibilityScore,
	})
	return share, err
}

func (s *Service) WithdrawApplication(ctx context.Context, userID, shareID, applicationID string) (*roomshare.Share, error) {
	var withdrawn roomshare.Application
	share, err := s.mutate(ctx, "withdraw", shareID, func(share *roomshare.Share) (bool, error) {
		application, err := share.Withdraw(applicationID, userID, s.Now())
		if err != nil {
			return false, err
		}
		withdrawn = *application
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(share, contracts.ShareEvent{
		EventType:     contracts.EventApplicationWithdrawn,
		ActorUserID:   userID,
		ApplicantID:   userID,
		ApplicationID: withdrawn.ID,
	})
	return share, nil
}

// RemoveParticipant marks a participant as left. Participants may remove
// themselves; the poster may remove anyone.
func (s *Service) RemoveParticipant(ctx context.Context, actorID, shareID, userID string) (*roomshare.Share, error) {
	share, err := s.mutate(ctx, "remove", shareID, func(share *roomshare.Share) (bool, error) {
		if actorID != userID && actorID != share.PosterID {
			return false, roomshare.ErrUnauthorized
		}
		if err := share.RemoveParticipant(userID, s.Now()); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(share, contracts.ShareEvent{
		EventType:   contracts.EventParticipantLeft,
		ActorUserID: actorID,
		ApplicantID: userID,
	})
	return share, nil
}

func (s *Service) CancelShare(ctx context.Context, posterID, shareID string) (*roomshare.Share, error) {
	share, err := s.mutate(ctx, "cancel", shareID, func(share *roomshare.Share) (bool, error) {
		if err := share.Cancel(posterID, s.Now()); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.publishEvent(share, contracts.ShareEvent{
		EventType:   contracts.EventShareCancelled,
		ActorUserID: posterID,
	})
	return share, nil
}

func (s *Service) CompleteShare(ctx context.Context, posterID, shareID string) (*roomshare.Share, error) {
	share, err := s.mutate(ctx, "complete", shareID, func(share *roomshare.Share) (bool, error) {
		if err := share.Complete(posterID, s.Now()); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.publishEvent(share, contracts.ShareEvent{
		EventType:   contracts.EventShareCompleted,
		ActorUserID: posterID,
	})
	return share, nil
}

func (s *Service) UpdateCosts(ctx context.Context, posterID, shareID string, inputs roomshare.CostInputs) (*roomshare.Share, error) {
	share, err := s.mutate(ctx, "update_costs", shareID, func(share *roomshare.Share) (bool, error) {
		if err := share.UpdateCosts(posterID, inputs, s.Now()); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.publishEvent(share, contracts.ShareEvent{
		EventType:   contracts.EventShareCostsUpdated,
		ActorUserID: posterID,
	})
	return share, nil
}

// FindMatches ranks currently-active shares for the applicant. The read is
// lock-free and eventually consistent with concurrent accepts.
func (s *Service) FindMatches(ctx context.Context, applicantID string, filters roomshare.MatchFilters) ([]roomshare.Match, error) {
	profile, err := s.Profiles.ApplicantProfile(ctx, applicantID)
	if err != nil {
		return nil, err
	}
	shares, err := s.Repo.ListActive(ctx, matchScanLimit)
	if err != nil {
		return nil, err
	}
	return roomshare.FindMatches(shares, profile, filters), nil
}

// ExpireStaleApplications rejects pending applications older than ttl and
// retires shares whose availability window has passed. It reports how many
// applications were swept.
func (s *Service) ExpireStaleApplications(ctx context.Context, ttl time.Duration) (int, error) {
	shares, err := s.Repo.ListActive(ctx, matchScanLimit)
	if err != nil {
		return 0, err
	}

	cutoff := s.Now().Add(-ttl)
	swept := 0
	for _, candidate := range shares {
		var expired []roomshare.Application
		var availabilityLapsed bool

		share, err := s.mutate(ctx, "sweep", candidate.ID, func(share *roomshare.Share) (bool, error) {
			expired = expired[:0]
			if availabilityLapsed = share.ExpireAvailability(s.Now()); availabilityLapsed {
				return true, nil
			}
			dirty := false
			for _, application := range share.Applications {
				if application.Status == roomshare.ApplicationPending && application.AppliedAt.Before(cutoff) {
					decided, err := share.Respond(application.ID, share.PosterID, false, "application expired", s.Now())
					if err != nil {
						return dirty, err
					}
					expired = append(expired, *decided)
					dirty = true
				}
			}
			return dirty, nil
		})
		if err != nil || share == nil {
			continue
		}

		if availabilityLapsed {
			s.publishEvent(share, contracts.ShareEvent{
				EventType:   contracts.EventShareExpired,
				ActorUserID: share.PosterID,
			})
			continue
		}
		swept += len(expired)
		for _, application := range expired {
			s.publishEvent(share, contracts.ShareEvent{
				EventType:     contracts.EventApplicationRejected,
				ActorUserID:   share.PosterID,
				ApplicantID:   application.ApplicantID,
				ApplicationID: application.ID,
			})
		}
	}
	return swept, nil
}

// mutate runs one load-apply-save round per attempt. apply reports whether
// the aggregate changed; a dirty aggregate is saved even when apply also
// returns an error, which is how the accept-on-full conversion reaches
// storage. Version conflicts re-run apply against a fresh load.
func (s *Service) mutate(ctx context.Context, operation, shareID string, apply func(*roomshare.Share) (bool, error)) (*roomshare.Share, error) {
	retries := s.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		share, err := s.Repo.Load(ctx, shareID)
		if err != nil {
			operationsTotal.WithLabelValues(operation, "error").Inc()
			return nil, err
		}
		expected := share.Version

		dirty, applyErr := apply(share)
		if !dirty {
			if applyErr != nil {
				operationsTotal.WithLabelValues(operation, "rejected").Inc()
				return nil, applyErr
			}
			operationsTotal.WithLabelValues(operation, "ok").Inc()
			return share, nil
		}

		if err := s.Repo.Save(ctx, share, expected); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				casConflictsTotal.WithLabelValues(operation).Inc()
				lastErr = err
				continue
			}
			operationsTotal.WithLabelValues(operation, "error").Inc()
			return nil, err
		}

		if applyErr != nil {
			operationsTotal.WithLabelValues(operation, "rejected").Inc()
		} else {
			operationsTotal.WithLabelValues(operation, "ok").Inc()
		}
		return share, applyErr
	}
	operationsTotal.WithLabelValues(operation, "conflict").Inc()
	return nil, lastErr
}

// publishEvent fills in the envelope fields and publishes fire-and-forget:
// a notification failure never rolls back the aggregate mutation.
func (s *Service) publishEvent(share *roomshare.Share, event contracts.ShareEvent) {
	if s.Publish == nil {
		return
	}
	event.EventID = s.NewID()
	event.ShareID = share.ID
	event.PropertyID = share.PropertyID
	event.PosterID = share.PosterID
	event.OccurredAt = s.Now()
	event.ShardID = sharding.GetShardID(share.ID)

	payload, err := json.Marshal(event)
	if err != nil {
		publishFailuresTotal.WithLabelValues(event.EventType).Inc()
		return
	}
	if err := s.Publish(sharding.EventSubject("share", share.ID), payload); err != nil {
		publishFailuresTotal.WithLabelValues(event.EventType).Inc()
	}
}
