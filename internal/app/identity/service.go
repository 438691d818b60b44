package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/unistay/roomshare/internal/platform/auth"
	"github.com/unistay/roomshare/internal/roomshare"
)

var (
	ErrInvalidUsername    = errors.New("username is required")
	ErrInvalidPassword    = errors.New("password must be at least 8 characters")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidGender      = errors.New("gender must be male, female or other")
	ErrInvalidAge         = errors.New("age must be between 16 and 120")
	ErrInvalidBudget      = errors.New("budget must not be negative")
	ErrProfileNotFound    = errors.New("applicant profile is not set up")
)

type AuthResponse struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
}

type Service struct {
	Repo      Repository
	AuthToken auth.Manager
	NewID     func() string
	Now       func() time.Time
}

func NewService(repo Repository, tokenManager auth.Manager) *Service {
	return &Service{
		Repo:      repo,
		AuthToken: tokenManager,
		NewID:     nuid.Next,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

func NewTokenManager(secret string) auth.Manager {
	return auth.NewManager(secret, time.Hour)
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func validateCredentials(username, password string) error {
	if normalizeUsername(username) == "" {
		return ErrInvalidUsername
	}
	if len(strings.TrimSpace(password)) < 8 {
		return ErrInvalidPassword
	}
	return nil
}

func validateProfile(profile roomshare.ApplicantProfile) error {
	switch roomshare.NormalizeGender(profile.Gender) {
	case roomshare.GenderMale, roomshare.GenderFemale, roomshare.GenderOther:
	default:
		return ErrInvalidGender
	}
	if profile.Age < 16 || profile.Age > 120 {
		return ErrInvalidAge
	}
	if profile.Budget < 0 {
		return ErrInvalidBudget
	}
	return nil
}

func (s *Service) Register(ctx context.Context, username, password string) (AuthResponse, error) {
	if err := validateCredentials(username, password); err != nil {
		return AuthResponse{}, err
	}
	uname := normalizeUsername(username)

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return AuthResponse{}, err
	}

	u := User{
		ID:           s.NewID(),
		Username:     uname,
		PasswordHash: string(hash),
	}
	if err := s.Repo.CreateUser(ctx, u); err != nil {
		return AuthResponse{}, err
	}
	return s.issueToken(u)
}

func (s *Service) Login(ctx context.Context, username, password string) (AuthResponse, error) {
	uname := normalizeUsername(username)
	if uname == "" || strings.TrimSpace(password) == "" {
		return AuthResponse{}, ErrInvalidCredentials
	}

	u, err := s.Repo.FindUserByUsername(ctx, uname)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AuthResponse{}, ErrInvalidCredentials
		}
		return AuthResponse{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return AuthResponse{}, ErrInvalidCredentials
	}
	return s.issueToken(u)
}

// SaveProfile stores the applicant profile used for compatibility scoring
// and match queries. Tags are normalized before persisting so scoring sees
// a canonical form.
func (s *Service) SaveProfile(ctx context.Context, userID string, profile roomshare.ApplicantProfile) (roomshare.ApplicantProfile, error) {
	if err := validateProfile(profile); err != nil {
		return roomshare.ApplicantProfile{}, err
	}
	canonical := roomshare.ApplicantProfile{
		Gender:      roomshare.NormalizeGender(profile.Gender),
		Age:         profile.Age,
		Preferences: roomshare.NormalizeTags(profile.Preferences),
		Lifestyle:   roomshare.NormalizeTags(profile.Lifestyle),
		Budget:      profile.Budget,
	}
	if err := s.Repo.UpsertProfile(ctx, userID, canonical); err != nil {
		return roomshare.ApplicantProfile{}, err
	}
	return canonical, nil
}

// ApplicantProfile returns the stored profile for a user, or
// ErrProfileNotFound when the user never filled one in.
func (s *Service) ApplicantProfile(ctx context.Context, userID string) (roomshare.ApplicantProfile, error) {
	profile, err := s.Repo.FindProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return roomshare.ApplicantProfile{}, ErrProfileNotFound
		}
		return roomshare.ApplicantProfile{}, err
	}
	return profile, nil
}

func (s *Service) issueToken(u User) (AuthResponse, error) {
	token, err := s.AuthToken.Sign(u.ID, u.Username)
	if err != nil {
		return AuthResponse{}, err
	}
	return AuthResponse{
		AccessToken: token,
		UserID:      u.ID,
		Username:    u.Username,
	}, nil
}
