package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"delivery/internal/domain"
	"delivery/internal/repository"
)

const deliveryColumns = `id, client_id, driver_id, conflict_id, status, code, package_type, departure, destination, recipients, price, candidates, created_at, accepted_at, started_at, ended_at, cancelled_at`

// DeliveryRepository is a PostgreSQL implementation of repository.DeliveryRepository.
type DeliveryRepository struct {
	q Querier
}

// NewDeliveryRepository creates a new PostgreSQL delivery repository.
func NewDeliveryRepository(q Querier) *DeliveryRepository {
	return &DeliveryRepository{q: q}
}

// Create persists a new delivery.
func (r *DeliveryRepository) Create(ctx context.Context, d *domain.Delivery) error {
	departure, err := json.Marshal(d.Departure)
	if err != nil {
		return err
	}
	destination, err := json.Marshal(d.Destination)
	if err != nil {
		return err
	}
	recipients, err := json.Marshal(d.Recipients)
	if err != nil {
		return err
	}

	candidates := d.Candidates
	if candidates == nil {
		candidates = []string{}
	}

	query := `
		INSERT INTO deliveries (id, client_id, driver_id, conflict_id, status, code, package_type, departure, destination, recipients, price, candidates, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = r.q.ExecContext(ctx, query,
		d.ID,
		d.ClientID,
		nullString(d.DriverID),
		nullString(d.ConflictID),
		d.Status,
		d.Code,
		d.PackageType,
		departure,
		destination,
		recipients,
		d.Price,
		pq.Array(candidates),
		d.CreatedAt,
	)
	return mapError(err)
}

// GetByID retrieves a delivery by ID.
func (r *DeliveryRepository) GetByID(ctx context.Context, id string) (*domain.Delivery, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = $1`, id)
	d, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return d, err
}

// GetActiveByDriverID retrieves the non-final delivery a driver carries. An
// assigned, opened conflict moves the delivery to its assignee.
func (r *DeliveryRepository) GetActiveByDriverID(ctx context.Context, driverID string) (*domain.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM deliveries d
		WHERE d.status NOT IN ($2, $3)
		  AND COALESCE(
		        (SELECT c.assignee_id FROM conflicts c
		          WHERE c.id = d.conflict_id AND c.status = $4 AND c.assignee_id IS NOT NULL),
		        d.driver_id) = $1
		ORDER BY d.accepted_at DESC LIMIT 1`
	row := r.q.QueryRowContext(ctx, query, driverID,
		domain.DeliveryStatusTerminated, domain.DeliveryStatusCancelled, domain.ConflictStatusOpened)
	d, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

// Assign sets the driver on an initial, unassigned delivery.
func (r *DeliveryRepository) Assign(ctx context.Context, id, driverID string, at time.Time) error {
	query := `
		UPDATE deliveries SET driver_id = $1, status = $2, accepted_at = $3
		WHERE id = $4 AND status = $5 AND driver_id IS NULL
	`
	res, err := r.q.ExecContext(ctx, query, driverID, domain.DeliveryStatusPendingReception, at, id, domain.DeliveryStatusInitial)
	if err != nil {
		return err
	}
	return expectOne(ctx, r.q, res, "deliveries", id)
}

// Transition moves the delivery from -> to.
func (r *DeliveryRepository) Transition(ctx context.Context, id string, from, to domain.DeliveryStatus, at time.Time) error {
	var stampColumn string
	switch to {
	case domain.DeliveryStatusStarted:
		stampColumn = "started_at"
	case domain.DeliveryStatusTerminated:
		stampColumn = "ended_at"
	case domain.DeliveryStatusCancelled:
		stampColumn = "cancelled_at"
	}

	var (
		res sql.Result
		err error
	)
	if stampColumn == "" {
		res, err = r.q.ExecContext(ctx,
			`UPDATE deliveries SET status = $1 WHERE id = $2 AND status = $3`,
			to, id, from)
	} else {
		res, err = r.q.ExecContext(ctx,
			`UPDATE deliveries SET status = $1, `+stampColumn+` = $2 WHERE id = $3 AND status = $4`,
			to, at, id, from)
	}
	if err != nil {
		return err
	}
	return expectOne(ctx, r.q, res, "deliveries", id)
}

// OpenConflict links conflictID and moves the delivery to inConflict.
func (r *DeliveryRepository) OpenConflict(ctx context.Context, id, conflictID string, from []domain.DeliveryStatus) error {
	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}

	query := `
		UPDATE deliveries SET status = $1, conflict_id = $2
		WHERE id = $3 AND conflict_id IS NULL AND status = ANY($4)
	`
	res, err := r.q.ExecContext(ctx, query, domain.DeliveryStatusInConflict, conflictID, id, pq.Array(statuses))
	if err != nil {
		return err
	}
	return expectOne(ctx, r.q, res, "deliveries", id)
}

// ResumeFromConflict moves inConflict -> started.
func (r *DeliveryRepository) ResumeFromConflict(ctx context.Context, id string, unlink bool, at time.Time) error {
	query := `
		UPDATE deliveries
		SET status = $1,
		    started_at = COALESCE(started_at, $2),
		    conflict_id = CASE WHEN $3 THEN NULL ELSE conflict_id END
		WHERE id = $4 AND status = $5
	`
	res, err := r.q.ExecContext(ctx, query, domain.DeliveryStatusStarted, at, unlink, id, domain.DeliveryStatusInConflict)
	if err != nil {
		return err
	}
	return expectOne(ctx, r.q, res, "deliveries", id)
}

// ListExpired returns initial deliveries created before the cutoff, oldest first.
func (r *DeliveryRepository) ListExpired(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM deliveries
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at LIMIT $3`
	rows, err := r.q.QueryContext(ctx, query, domain.DeliveryStatusInitial, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []*domain.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDelivery(row rowScanner) (*domain.Delivery, error) {
	var d domain.Delivery
	var driverID, conflictID sql.NullString
	var departure, destination, recipients []byte
	var acceptedAt, startedAt, endedAt, cancelledAt sql.NullTime
	var candidates pq.StringArray

	err := row.Scan(
		&d.ID,
		&d.ClientID,
		&driverID,
		&conflictID,
		&d.Status,
		&d.Code,
		&d.PackageType,
		&departure,
		&destination,
		&recipients,
		&d.Price,
		&candidates,
		&d.CreatedAt,
		&acceptedAt,
		&startedAt,
		&endedAt,
		&cancelledAt,
	)
	if err != nil {
		return nil, err
	}
	if !d.Status.Valid() {
		return nil, fmt.Errorf("delivery %s: unknown status %q", d.ID, d.Status)
	}

	if err := json.Unmarshal(departure, &d.Departure); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(destination, &d.Destination); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(recipients, &d.Recipients); err != nil {
		return nil, err
	}

	d.DriverID = driverID.String
	d.ConflictID = conflictID.String
	d.Candidates = []string(candidates)
	d.AcceptedAt = acceptedAt.Time
	d.StartedAt = startedAt.Time
	d.EndedAt = endedAt.Time
	d.CancelledAt = cancelledAt.Time

	return &d, nil
}
