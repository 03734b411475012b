package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// User is an account row. Registration and login live outside this server;
// the repository exists for seeding and ticket issuance.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
}

// UserRepository manages users in the database.
type UserRepository struct {
	db *pgxpool.Pool
}

// NewUserRepository creates a UserRepository.
func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

// GetByEmail returns the user with email or ErrNotFound.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (User, error) {
	email = strings.ToLower(email)
	var u User
	err := r.db.QueryRow(ctx,
		`SELECT id, email, password_hash FROM users WHERE email = $1`, email,
	).Scan(&u.ID, &u.Email, &u.PasswordHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("querying user %q: %w", email, err)
	}
	return u, nil
}

// Create inserts a user and returns its id.
func (r *UserRepository) Create(ctx context.Context, email, passwordHash string) (int64, error) {
	email = strings.ToLower(email)
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO users (email, password_hash) VALUES ($1, $2) RETURNING id`,
		email, passwordHash,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("creating user %q: %w", email, err)
	}
	return id, nil
}
