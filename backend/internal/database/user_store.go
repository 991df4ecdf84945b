package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/models"
)

// CreateUser inserts a new user. The role defaults to models.RoleUser.
func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	if user.Role == "" {
		user.Role = models.RoleUser
	}
	query := `INSERT INTO users (username, password_hash, role) VALUES ($1, $2, $3)
			  RETURNING id, created_at`

	err := s.pool.QueryRow(ctx, query, user.Username, user.Password, user.Role).
		Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrDuplicate
		}
		return fmt.Errorf("error creating user %q: %w", user.Username, err)
	}
	return nil
}

// UserByUsername looks a user up case-insensitively.
func (s *Store) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	query := `SELECT id, username, password_hash, role, created_at FROM users WHERE LOWER(username) = LOWER($1)`

	err := s.pool.QueryRow(ctx, query, username).
		Scan(&user.ID, &user.Username, &user.Password, &user.Role, &user.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return user, nil
}

func (s *Store) UserByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user := &models.User{}
	query := `SELECT id, username, password_hash, role, created_at FROM users WHERE id = $1`

	err := s.pool.QueryRow(ctx, query, userID).
		Scan(&user.ID, &user.Username, &user.Password, &user.Role, &user.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return user, nil
}
