package identity

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/lib/pq"
)

// Store handles user persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new user store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateUser creates a new user
func (s *Store) CreateUser(ctx context.Context, user *User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}

	query := `
		INSERT INTO users (id, username, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	now := time.Now()
	_, err := s.db.ExecContext(ctx, query, user.ID, user.Username, user.Email, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return trace.AlreadyExists("user %q already exists", user.Username)
		}
		return trace.Wrap(err, "failed to create user")
	}

	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `
		SELECT id, username, email, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	var user User
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, trace.NotFound("user %s not found", id)
	}
	if err != nil {
		return nil, trace.Wrap(err, "failed to get user")
	}

	return &user, nil
}

// IsValidUser reports whether the identifier denotes a known user
func (s *Store) IsValidUser(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `SELECT COUNT(1) FROM users WHERE id = $1`

	var count int
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&count); err != nil {
		return false, trace.Wrap(err, "failed to check user")
	}
	return count > 0, nil
}

// isUniqueViolation reports whether err is a postgres unique constraint error
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
