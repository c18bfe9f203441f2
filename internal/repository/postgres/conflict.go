package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"delivery/internal/domain"
	"delivery/internal/repository"
)

const conflictColumns = `id, delivery_id, status, type, reporter_id, assigner_id, assignee_id, last_lat, last_lng, created_at, assigned_at, closed_at`

// ConflictRepository is a PostgreSQL implementation of repository.ConflictRepository.
type ConflictRepository struct {
	q Querier
}

// NewConflictRepository creates a new PostgreSQL conflict repository.
func NewConflictRepository(q Querier) *ConflictRepository {
	return &ConflictRepository{q: q}
}

// Create persists a new conflict.
func (r *ConflictRepository) Create(ctx context.Context, c *domain.Conflict) error {
	query := `
		INSERT INTO conflicts (id, delivery_id, status, type, reporter_id, last_lat, last_lng, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.q.ExecContext(ctx, query,
		c.ID,
		c.DeliveryID,
		c.Status,
		c.Type,
		c.ReporterID,
		c.LastLocation.Lat,
		c.LastLocation.Lng,
		c.CreatedAt,
	)
	return mapError(err)
}

// GetByID retrieves a conflict by ID.
func (r *ConflictRepository) GetByID(ctx context.Context, id string) (*domain.Conflict, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+conflictColumns+` FROM conflicts WHERE id = $1`, id)
	c, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return c, err
}

// GetOpenByDeliveryID retrieves the opened conflict of a delivery.
func (r *ConflictRepository) GetOpenByDeliveryID(ctx context.Context, deliveryID string) (*domain.Conflict, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+conflictColumns+` FROM conflicts WHERE delivery_id = $1 AND status = $2`,
		deliveryID, domain.ConflictStatusOpened)
	c, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// Assign sets assigner and assignee on an opened, unassigned conflict.
func (r *ConflictRepository) Assign(ctx context.Context, id, assignerID, assigneeID string, at time.Time) error {
	query := `
		UPDATE conflicts SET assigner_id = $1, assignee_id = $2, assigned_at = $3
		WHERE id = $4 AND status = $5 AND assigner_id IS NULL AND assignee_id IS NULL
	`
	res, err := r.q.ExecContext(ctx, query, assignerID, assigneeID, at, id, domain.ConflictStatusOpened)
	if err != nil {
		return err
	}
	return expectOne(ctx, r.q, res, "conflicts", id)
}

// Close moves an opened conflict to status.
func (r *ConflictRepository) Close(ctx context.Context, id string, status domain.ConflictStatus, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE conflicts SET status = $1, closed_at = $2 WHERE id = $3 AND status = $4`,
		status, at, id, domain.ConflictStatusOpened)
	if err != nil {
		return err
	}
	return expectOne(ctx, r.q, res, "conflicts", id)
}

// ListUnassigned returns one page of opened, unassigned conflicts and the total.
func (r *ConflictRepository) ListUnassigned(ctx context.Context, offset, limit int) ([]*domain.Conflict, int, error) {
	const where = ` WHERE status = $1 AND assigner_id IS NULL AND assignee_id IS NULL`

	var total int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM conflicts`+where, domain.ConflictStatusOpened).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.q.QueryContext(ctx,
		`SELECT `+conflictColumns+` FROM conflicts`+where+` ORDER BY created_at LIMIT $2 OFFSET $3`,
		domain.ConflictStatusOpened, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	conflicts := []*domain.Conflict{}
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, 0, err
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, total, rows.Err()
}

func scanConflict(row rowScanner) (*domain.Conflict, error) {
	var c domain.Conflict
	var assignerID, assigneeID sql.NullString
	var assignedAt, closedAt sql.NullTime

	err := row.Scan(
		&c.ID,
		&c.DeliveryID,
		&c.Status,
		&c.Type,
		&c.ReporterID,
		&assignerID,
		&assigneeID,
		&c.LastLocation.Lat,
		&c.LastLocation.Lng,
		&c.CreatedAt,
		&assignedAt,
		&closedAt,
	)
	if err != nil {
		return nil, err
	}

	c.AssignerID = assignerID.String
	c.AssigneeID = assigneeID.String
	c.AssignedAt = assignedAt.Time
	c.ClosedAt = closedAt.Time
	return &c, nil
}
