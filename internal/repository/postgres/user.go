package postgres

import (
	"context"
	"database/sql"
	"errors"

	"delivery/internal/domain"
	"delivery/internal/repository"
)

// UserRepository implements repository.UserRepository using PostgreSQL.
type UserRepository struct {
	q Querier
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(q Querier) *UserRepository {
	return &UserRepository{q: q}
}

// Create adds a new user.
func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, name, phone, role, language, push_token, points, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.q.ExecContext(ctx, query,
		user.ID, user.Name, user.Phone, user.Role, user.Language,
		nullString(user.PushToken), user.Points, user.CreatedAt)
	return mapError(err)
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT id, name, phone, role, language, push_token, points, created_at FROM users WHERE id = $1`
	row := r.q.QueryRowContext(ctx, query, id)

	var user domain.User
	var pushToken sql.NullString
	err := row.Scan(&user.ID, &user.Name, &user.Phone, &user.Role, &user.Language, &pushToken, &user.Points, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	user.PushToken = pushToken.String
	return &user, nil
}

// UpdatePushToken stores the device token used for fallback pushes.
func (r *UserRepository) UpdatePushToken(ctx context.Context, id, token string) error {
	res, err := r.q.ExecContext(ctx, `UPDATE users SET push_token = $1 WHERE id = $2`, nullString(token), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DebitPoints removes points if the balance allows it.
func (r *UserRepository) DebitPoints(ctx context.Context, id string, points int64) (int64, error) {
	var balance int64
	err := r.q.QueryRowContext(ctx,
		`UPDATE users SET points = points - $1 WHERE id = $2 AND points >= $1 RETURNING points`,
		points, id).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := r.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists); err != nil {
			return 0, err
		}
		if !exists {
			return 0, repository.ErrNotFound
		}
		return 0, repository.ErrStateChanged
	}
	return balance, err
}
