package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/unistay/roomshare/internal/platform/auth"
	"github.com/unistay/roomshare/internal/roomshare"
)

type fakeRepo struct {
	users    map[string]User
	profiles map[string]roomshare.ApplicantProfile

	createErr error
	findErr   error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:    map[string]User{},
		profiles: map[string]roomshare.ApplicantProfile{},
	}
}

func (f *fakeRepo) EnsureSchema(ctx context.Context) error { return nil }

func (f *fakeRepo) CreateUser(ctx context.Context, user User) error {
	if f.createErr != nil {
		return f.createErr
	}
	for _, u := range f.users {
		if u.Username == user.Username {
			return errors.New("duplicate")
		}
	}
	f.users[user.ID] = user
	return nil
}

func (f *fakeRepo) FindUserByUsername(ctx context.Context, username string) (User, error) {
	if f.findErr != nil {
		return User{}, f.findErr
	}
	for _, u := range f.users {
		if u.Username == username {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (f *fakeRepo) FindUserByID(ctx context.Context, userID string) (User, error) {
	u, ok := f.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (f *fakeRepo) UpsertProfile(ctx context.Context, userID string, profile roomshare.ApplicantProfile) error {
	f.profiles[userID] = profile
	return nil
}

func (f *fakeRepo) FindProfile(ctx context.Context, userID string) (roomshare.ApplicantProfile, error) {
	p, ok := f.profiles[userID]
	if !ok {
		return roomshare.ApplicantProfile{}, ErrNotFound
	}
	return p, nil
}

func testTokenManager() auth.Manager {
	m := auth.NewManager("secret", time.Hour)
	m.Now = func() time.Time { return time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC) }
	return m
}

func TestRegisterAndLogin(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, testTokenManager())
	next := 0
	svc.NewID = func() string {
		next++
		return "id-" + string(rune('a'+next))
	}

	reg, err := svc.Register(context.Background(), "Alice", "password123")
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if reg.AccessToken == "" || reg.UserID == "" || reg.Username != "alice" {
		t.Fatalf("unexpected register response: %+v", reg)
	}

	login, err := svc.Login(context.Background(), "alice", "password123")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	if login.AccessToken == "" || login.UserID != reg.UserID {
		t.Fatalf("unexpected login response: %+v", login)
	}

	if _, err := svc.Login(context.Background(), "alice", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := NewService(newFakeRepo(), testTokenManager())
	if _, err := svc.Register(context.Background(), "", "password123"); !errors.Is(err, ErrInvalidUsername) {
		t.Fatalf("expected ErrInvalidUsername, got %v", err)
	}
	if _, err := svc.Register(context.Background(), "bob", "short"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}
}

func TestSaveProfile_NormalizesAndValidates(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, testTokenManager())

	saved, err := svc.SaveProfile(context.Background(), "u1", roomshare.ApplicantProfile{
		Gender:      "Female",
		Age:         21,
		Preferences: []string{" Non-Smoker ", "non-smoker", "Student"},
		Lifestyle:   []string{"Study_Focused"},
		Budget:      5200,
	})
	if err != nil {
		t.Fatalf("SaveProfile error: %v", err)
	}
	if saved.Gender != roomshare.GenderFemale {
		t.Fatalf("gender not normalized: %q", saved.Gender)
	}
	if len(saved.Preferences) != 2 || saved.Preferences[0] != "non-smoker" || saved.Preferences[1] != "student" {
		t.Fatalf("preferences not normalized: %v", saved.Preferences)
	}

	if _, err := svc.SaveProfile(context.Background(), "u1", roomshare.ApplicantProfile{Gender: "any", Age: 21}); !errors.Is(err, ErrInvalidGender) {
		t.Fatalf("expected ErrInvalidGender, got %v", err)
	}
	if _, err := svc.SaveProfile(context.Background(), "u1", roomshare.ApplicantProfile{Gender: "male", Age: 12}); !errors.Is(err, ErrInvalidAge) {
		t.Fatalf("expected ErrInvalidAge, got %v", err)
	}
	if _, err := svc.SaveProfile(context.Background(), "u1", roomshare.ApplicantProfile{Gender: "male", Age: 20, Budget: -1}); !errors.Is(err, ErrInvalidBudget) {
		t.Fatalf("expected ErrInvalidBudget, got %v", err)
	}
}

func TestApplicantProfile_Missing(t *testing.T) {
	svc := NewService(newFakeRepo(), testTokenManager())
	if _, err := svc.ApplicantProfile(context.Background(), "nobody"); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}
