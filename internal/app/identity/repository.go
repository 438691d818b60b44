package identity

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unistay/roomshare/internal/roomshare"
)

var ErrNotFound = errors.New("not found")

type User struct {
	ID           string
	Username     string
	PasswordHash string
}

type Repository interface {
	EnsureSchema(ctx context.Context) error
	CreateUser(ctx context.Context, user User) error
	FindUserByUsername(ctx context.Context, username string) (User, error)
	FindUserByID(ctx context.Context, userID string) (User, error)

	UpsertProfile(ctx context.Context, userID string, profile roomshare.ApplicantProfile) error
	FindProfile(ctx context.Context, userID string) (roomshare.ApplicantProfile, error)
}

type PostgresRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

const createUsersSQL = `
CREATE TABLE IF NOT EXISTS users (
  id text PRIMARY KEY,
  username text NOT NULL UNIQUE,
  password_hash text NOT NULL,
  created_at timestamptz NOT NULL DEFAULT now()
)`

const createApplicantProfilesSQL = `
CREATE TABLE IF NOT EXISTS applicant_profiles (
  user_id text PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
  gender text NOT NULL,
  age integer NOT NULL,
  preferences text[] NOT NULL DEFAULT '{}',
  lifestyle text[] NOT NULL DEFAULT '{}',
  budget bigint NOT NULL DEFAULT 0,
  updated_at timestamptz NOT NULL DEFAULT now()
)`

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.Pool.Exec(ctx, createUsersSQL); err != nil {
		return err
	}
	if _, err := r.Pool.Exec(ctx, createApplicantProfilesSQL); err != nil {
		return err
	}
	return nil
}

func (r *PostgresRepository) CreateUser(ctx context.Context, user User) error {
	_, err := r.Pool.Exec(ctx,
		`INSERT INTO users (id, username, password_hash) VALUES ($1, $2, $3)`,
		user.ID, user.Username, user.PasswordHash,
	)
	return err
}

func (r *PostgresRepository) FindUserByUsername(ctx context.Context, username string) (User, error) {
	var u User
	err := r.Pool.QueryRow(ctx,
		`SELECT id, username, password_hash FROM users WHERE username = $1`,
		username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}

func (r *PostgresRepository) FindUserByID(ctx context.Context, userID string) (User, error) {
	var u User
	err := r.Pool.QueryRow(ctx,
		`SELECT id, username, password_hash FROM users WHERE id = $1`,
		userID,
	).Scan(&u.ID, &u.Username, &u.PasswordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}

func (r *PostgresRepository) UpsertProfile(ctx context.Context, userID string, profile roomshare.ApplicantProfile) error {
	_, err := r.Pool.Exec(ctx,
		`INSERT INTO applicant_profiles (user_id, gender, age, preferences, lifestyle, budget, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())
		 ON CONFLICT (user_id) DO UPDATE
		 SET gender = EXCLUDED.gender,
		     age = EXCLUDED.age,
		     preferences = EXCLUDED.preferences,
		     lifestyle = EXCLUDED.lifestyle,
		     budget = EXCLUDED.budget,
		     updated_at = now()`,
		userID, profile.Gender, profile.Age, profile.Preferences, profile.Lifestyle, profile.Budget,
	)
	return err
}

func (r *PostgresRepository) FindProfile(ctx context.Context, userID string) (roomshare.ApplicantProfile, error) {
	var p roomshare.ApplicantProfile
	err := r.Pool.QueryRow(ctx,
		`SELECT gender, age, preferences, lifestyle, budget
		 FROM applicant_profiles
		 WHERE user_id = $1`,
		userID,
	).Scan(&p.Gender, &p.Age, &p.Preferences, &p.Lifestyle, &p.Budget)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return roomshare.ApplicantProfile{}, ErrNotFound
		}
		return roomshare.ApplicantProfile{}, err
	}
	return p, nil
}
