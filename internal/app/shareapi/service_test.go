package shareapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/unistay/roomshare/internal/app/identity"
	"github.com/unistay/roomshare/internal/contracts"
	"github.com/unistay/roomshare/internal/roomshare"
)

var serviceTestNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

type fakeProfiles struct {
	profiles map[string]roomshare.ApplicantProfile
}

func (f *fakeProfiles) ApplicantProfile(_ context.Context, userID string) (roomshare.ApplicantProfile, error) {
	profile, ok := f.profiles[userID]
	if !ok {
		return roomshare.ApplicantProfile{}, identity.ErrProfileNotFound
	}
	return profile, nil
}

type eventRecorder struct {
	mu       sync.Mutex
	subjects []string
	events   []contracts.ShareEvent
}

func (r *eventRecorder) publish(subject string, payload []byte) error {
	var event contracts.ShareEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.events))
	for _, event := range r.events {
		types = append(types, event.EventType)
	}
	return types
}

func newTestService(profiles map[string]roomshare.ApplicantProfile) (*Service, *MemoryShareRepository, *eventRecorder) {
	repo := NewMemoryShareRepository()
	recorder := &eventRecorder{}
	seq := 0
	svc := NewService(repo, &fakeProfiles{profiles: profiles}, recorder.publish)
	svc.Now = func() time.Time { return serviceTestNow }
	svc.NewID = func() string {
		seq++
		return fmt.Sprintf("id-%03d", seq)
	}
	return svc, repo, recorder
}

func defaultProfiles(userIDs ...string) map[string]roomshare.ApplicantProfile {
	profiles := make(map[string]roomshare.ApplicantProfile, len(userIDs))
	for _, userID := range userIDs {
		profiles[userID] = roomshare.ApplicantProfile{
			Gender:      "female",
			Age:         22,
			Preferences: []string{"non-smoker"},
			Lifestyle:   []string{"study_focused"},
			Budget:      5200,
		}
	}
	return profiles
}

func createTestShare(t *testing.T, svc *Service, maxParticipants int) *roomshare.Share {
	t.Helper()
	share, err := svc.CreateShare(context.Background(), "poster-1", CreateShareParams{
		PropertyID:      "prop-1",
		MaxParticipants: maxParticipants,
		Requirements: roomshare.RequirementProfile{
			Gender:      "any",
			MinAge:      18,
			MaxAge:      30,
			Preferences: []string{"non-smoker"},
			Lifestyle:   []string{"study_focused"},
		},
		CostInputs:    roomshare.CostInputs{MonthlyRent: 10000, SecurityDeposit: 20000},
		AvailableFrom: serviceTestNow.AddDate(0, 0, 7),
	})
	if err != nil {
		t.Fatalf("CreateShare: %v", err)
	}
	return share
}

func TestCreateShare_PersistsAndPublishes(t *testing.T) {
	svc, repo, recorder := newTestService(nil)
	share := createTestShare(t, svc, 3)

	if share.Version != 1 {
		t.Fatalf("expected version 1 after create, got %d", share.Version)
	}
	stored, err := repo.Load(context.Background(), share.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if stored.ConfirmedCount() != 1 || !stored.Participants[0].OriginalPoster {
		t.Fatalf("expected poster seated as first participant, got %+v", stored.Participants)
	}

	types := recorder.types()
	if len(types) != 1 || types[0] != contracts.EventShareCreated {
		t.Fatalf("expected one share.created event, got %v", types)
	}
	want := fmt.Sprintf("app.event.%d.share.%s", recorder.events[0].ShardID, share.ID)
	if recorder.subjects[0] != want {
		t.Fatalf("expected subject %q, got %q", want, recorder.subjects[0])
	}
}

func TestSubmitApplication_RequiresProfile(t *testing.T) {
	svc, _, _ := newTestService(nil)
	share := createTestShare(t, svc, 3)

	_, _, err := svc.SubmitApplication(context.Background(), "stranger", share.ID, "hi")
	if !errors.Is(err, identity.ErrProfileNotFound) {
		t.Fatalf("expected profile error, got %v", err)
	}
}

func TestSubmitApplication_ScoresFromProfile(t *testing.T) {
	svc, repo, recorder := newTestService(defaultProfiles("applicant-1"))
	share := createTestShare(t, svc, 3)

	_, application, err := svc.SubmitApplication(context.Background(), "applicant-1", share.ID, "quiet student")
	if err != nil {
		t.Fatalf("SubmitApplication: %v", err)
	}
	if application.CompatibilityScore != 90 {
		t.Fatalf("expected score 90, got %d", application.CompatibilityScore)
	}

	stored, _ := repo.Load(context.Background(), share.ID)
	if len(stored.Applications) != 1 || stored.Applications[0].Status != roomshare.ApplicationPending {
		t.Fatalf("expected one pending application, got %+v", stored.Applications)
	}

	last := recorder.events[len(recorder.events)-1]
	if last.EventType != contracts.EventApplicationSubmitted || last.CompatibilityScore != 90 {
		t.Fatalf("unexpected submitted event: %+v", last)
	}
}

func TestRespond_AcceptSeatsApplicant(t *testing.T) {
	svc, repo, recorder := newTestService(defaultProfiles("applicant-1"))
	share := createTestShare(t, svc, 3)

	_, application, err := svc.SubmitApplication(context.Background(), "applicant-1", share.ID, "")
	if err != nil {
		t.Fatalf("SubmitApplication: %v", err)
	}

	updated, err := svc.RespondToApplication(context.Background(), "poster-1", share.ID, application.ID, true, "welcome")
	if err != nil {
		t.Fatalf("RespondToApplication: %v", err)
	}
	if updated.ConfirmedCount() != 2 {
		t.Fatalf("expected 2 confirmed participants, got %d", updated.ConfirmedCount())
	}

	stored, _ := repo.Load(context.Background(), share.ID)
	if stored.Version != updated.Version {
		t.Fatalf("stored version %d != returned %d", stored.Version, updated.Version)
	}

	types := recorder.types()
	if types[len(types)-1] != contracts.EventApplicationAccepted {
		t.Fatalf("expected accepted event last, got %v", types)
	}
}

func TestRespond_NonPosterForbidden(t *testing.T) {
	svc, _, _ := newTestService(defaultProfiles("applicant-1"))
	share := createTestShare(t, svc, 3)
	_, application, _ := svc.SubmitApplication(context.Background(), "applicant-1", share.ID, "")

	_, err := svc.RespondToApplication(context.Background(), "applicant-1", share.ID, application.ID, true, "")
	if !errors.Is(err, roomshare.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestRespond_AcceptOnFullPersistsRejection(t *testing.T) {
	svc, repo, _ := newTestService(defaultProfiles("applicant-1", "applicant-2"))
	share := createTestShare(t, svc, 2)

	_, first, _ := svc.SubmitApplication(context.Background(), "applicant-1", share.ID, "")
	_, second, _ := svc.SubmitApplication(context.Background(), "applicant-2", share.ID, "")

	if _, err := svc.RespondToApplication(context.Background(), "poster-1", share.ID, first.ID, true, ""); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	updated, err := svc.RespondToApplication(context.Background(), "poster-1", share.ID, second.ID, true, "")
	if !errors.Is(err, roomshare.ErrRoomFull) {
		t.Fatalf("expected ErrRoomFull, got %v", err)
	}
	if updated == nil {
		t.Fatal("expected updated share alongside ErrRoomFull")
	}

	stored, _ := repo.Load(context.Background(), share.ID)
	for _, application := range stored.Applications {
		if application.ID == second.ID && application.Status != roomshare.ApplicationRejected {
			t.Fatalf("expected persisted rejection, got %s", application.Status)
		}
	}
	if stored.ConfirmedCount() != 2 {
		t.Fatalf("expected capacity unchanged at 2, got %d", stored.ConfirmedCount())
	}
}

func TestRespond_ConcurrentAcceptsSeatExactlyOne(t *testing.T) {
	svc, repo, _ := newTestService(defaultProfiles("applicant-1", "applicant-2"))
	share := createTestShare(t, svc, 2)

	_, first, _ := svc.SubmitApplication(context.Background(), "applicant-1", share.ID, "")
	_, second, _ := svc.SubmitApplication(context.Background(), "applicant-2", share.ID, "")

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for _, applicationID := range []string{first.ID, second.ID} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := svc.RespondToApplication(context.Background(), "poster-1", share.ID, id, true, "")
			results <- err
		}(applicationID)
	}
	wg.Wait()
	close(results)

	var accepted, full int
	for err := range results {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, roomshare.ErrRoomFull):
			full++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if accepted != 1 || full != 1 {
		t.Fatalf("expected exactly one accept and one full, got accepted=%d full=%d", accepted, full)
	}

	stored, _ := repo.Load(context.Background(), share.ID)
	if stored.ConfirmedCount() != 2 {
		t.Fatalf("expected 2 confirmed participants, got %d", stored.ConfirmedCount())
	}
	if stored.Status != roomshare.StatusFull {
		t.Fatalf("expected full status, got %s", stored.Status)
	}
}

type conflictOnceRepo struct {
	*MemoryShareRepository
	mu       sync.Mutex
	injected bool
}

func (r *conflictOnceRepo) Save(ctx context.Context, share *roomshare.Share, expectedVersion uint64) error {
	r.mu.Lock()
	inject := expectedVersion > 0 && !r.injected
	if inject {
		r.injected = true
	}
	r.mu.Unlock()
	if inject {
		return ErrVersionConflict
	}
	return r.MemoryShareRepository.Save(ctx, share, expectedVersion)
}

func TestMutate_RetriesAfterVersionConflict(t *testing.T) {
	svc, repo, _ := newTestService(defaultProfiles("applicant-1"))
	svc.Repo = &conflictOnceRepo{MemoryShareRepository: repo}
	share := createTestShare(t, svc, 3)

	_, _, err := svc.SubmitApplication(context.Background(), "applicant-1", share.ID, "hi")
	if err != nil {
		t.Fatalf("expected retry to absorb conflict, got %v", err)
	}
}

func TestRemoveParticipant_Authorization(t *testing.T) {
	svc, _, _ := newTestService(defaultProfiles("applicant-1", "applicant-2"))
	share := createTestShare(t, svc, 3)
	_, application, _ := svc.SubmitApplication(context.Background(), "applicant-1", share.ID, "")
	if _, err := svc.RespondToApplication(context.Background(), "poster-1", share.ID, application.ID, true, ""); err != nil {
		t.Fatalf("accept: %v", err)
	}

	if _, err := svc.RemoveParticipant(context.Background(), "applicant-2", share.ID, "applicant-1"); !errors.Is(err, roomshare.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for third party, got %v", err)
	}
	if _, err := svc.RemoveParticipant(context.Background(), "applicant-1", share.ID, "applicant-1"); err != nil {
		t.Fatalf("self removal: %v", err)
	}
}

func TestFindMatches_RanksActiveShares(t *testing.T) {
	svc, _, _ := newTestService(defaultProfiles("seeker"))
	share := createTestShare(t, svc, 3)

	matches, err := svc.FindMatches(context.Background(), "seeker", roomshare.MatchFilters{MaxBudget: 5000})
	if err != nil {
		t.Fatalf("FindMatches: %v", err)
	}
	if len(matches) != 1 || matches[0].Share.ID != share.ID {
		t.Fatalf("expected the one active share, got %+v", matches)
	}
	if matches[0].Score != 90 {
		t.Fatalf("expected score 90, got %d", matches[0].Score)
	}
}

func TestExpireStaleApplications(t *testing.T) {
	svc, repo, recorder := newTestService(defaultProfiles("applicant-1"))
	share := createTestShare(t, svc, 3)
	_, application, _ := svc.SubmitApplication(context.Background(), "applicant-1", share.ID, "")

	// Age the pending application past the TTL.
	svc.Now = func() time.Time { return serviceTestNow.AddDate(0, 0, 2) }

	swept, err := svc.ExpireStaleApplications(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("ExpireStaleApplications: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected 1 swept application, got %d", swept)
	}

	stored, _ := repo.Load(context.Background(), share.ID)
	for _, stale := range stored.Applications {
		if stale.ID == application.ID && stale.Status != roomshare.ApplicationRejected {
			t.Fatalf("expected expired application rejected, got %s", stale.Status)
		}
	}
	types := recorder.types()
	if types[len(types)-1] != contracts.EventApplicationRejected {
		t.Fatalf("expected rejected event last, got %v", types)
	}
}

func TestExpireStaleApplications_RetiresLapsedAvailability(t *testing.T) {
	svc, repo, recorder := newTestService(nil)
	till := serviceTestNow.AddDate(0, 1, 0)
	share, err := svc.CreateShare(context.Background(), "poster-1", CreateShareParams{
		PropertyID:      "prop-2",
		MaxParticipants: 2,
		Requirements:    roomshare.RequirementProfile{Gender: "any", MinAge: 18, MaxAge: 30},
		CostInputs:      roomshare.CostInputs{MonthlyRent: 8000},
		AvailableFrom:   serviceTestNow,
		AvailableTill:   &till,
	})
	if err != nil {
		t.Fatalf("CreateShare: %v", err)
	}

	svc.Now = func() time.Time { return till.AddDate(0, 0, 1) }
	if _, err := svc.ExpireStaleApplications(context.Background(), 24*time.Hour); err != nil {
		t.Fatalf("ExpireStaleApplications: %v", err)
	}

	stored, err := repo.Load(context.Background(), share.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if stored.Status != roomshare.StatusInactive {
		t.Fatalf("expected inactive share, got %s", stored.Status)
	}
	types := recorder.types()
	if types[len(types)-1] != contracts.EventShareExpired {
		t.Fatalf("expected expired event last, got %v", types)
	}
}
