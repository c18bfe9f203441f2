package service

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"

	"delivery/internal/domain"
	"delivery/internal/events"
	"delivery/internal/logx"
	"delivery/internal/repository"
)

// Pagination bounds for conflict listings.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// PositionReader returns the last known position of a driver, nil when
// unknown.
type PositionReader interface {
	GetLocation(ctx context.Context, driverID string) (*domain.GeoPoint, error)
}

// ConflictDeps holds ConflictService collaborators.
type ConflictDeps struct {
	Store        repository.Store
	Deliveries   *DeliveryService
	Positions    PositionReader
	Availability DriverAvailability
	Publisher    events.Publisher
	Recorder     TransitionRecorder
	Log          logx.Logger
	Now          func() time.Time
}

// ConflictService is the conflict state machine layered on deliveries.
type ConflictService struct {
	store        repository.Store
	deliveries   *DeliveryService
	positions    PositionReader
	availability DriverAvailability
	publisher    events.Publisher
	recorder     TransitionRecorder
	log          logx.Logger
	now          func() time.Time
	types        []string
}

// NewConflictService creates a new ConflictService. types is the conflict
// type allow-list.
func NewConflictService(deps ConflictDeps, types []string) *ConflictService {
	s := &ConflictService{
		store:        deps.Store,
		deliveries:   deps.Deliveries,
		positions:    deps.Positions,
		availability: deps.Availability,
		publisher:    deps.Publisher,
		recorder:     deps.Recorder,
		log:          deps.Log,
		now:          deps.Now,
		types:        types,
	}
	if s.recorder == nil {
		s.recorder = nopTransitions{}
	}
	if s.log == nil {
		s.log = logx.Nop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// ReportRequest contains the parameters for reporting a conflict.
type ReportRequest struct {
	DeliveryID string
	Type       string
	Location   *domain.GeoPoint // operators may omit it
}

// Report opens a conflict on an ongoing delivery and moves the delivery to
// inConflict in the same transaction.
func (s *ConflictService) Report(ctx context.Context, caller domain.Caller, req ReportRequest) (*domain.Conflict, error) {
	const op = "conflict.report"

	d, err := s.deliveries.load(ctx, op, req.DeliveryID)
	if err != nil {
		return nil, err
	}
	if err := checkDelivery(op, d, caller, participantOrOperator); err != nil {
		return nil, err
	}
	if !slices.Contains(s.types, req.Type) {
		return nil, fail(op, KindUnsupportedType)
	}
	if err := checkDelivery(op, d, caller, reportable); err != nil {
		return nil, err
	}
	if err := edge(op, d.Status, domain.DeliveryStatusInConflict); err != nil {
		return nil, err
	}

	location, err := s.reportLocation(ctx, op, d, caller, req.Location)
	if err != nil {
		return nil, err
	}

	c := &domain.Conflict{
		ID:           uuid.New().String(),
		DeliveryID:   d.ID,
		Status:       domain.ConflictStatusOpened,
		Type:         req.Type,
		ReporterID:   caller.UserID,
		LastLocation: location,
		CreatedAt:    s.now().UTC(),
	}

	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.Conflicts().Create(ctx, c); err != nil {
			return err
		}
		return tx.Deliveries().OpenConflict(ctx, d.ID, c.ID, domain.OngoingStatuses())
	})
	switch {
	case errors.Is(err, repository.ErrDuplicate):
		return nil, fail(op, KindAlreadyReported)
	case errors.Is(err, repository.ErrStateChanged):
		return nil, s.deliveries.reclassify(ctx, op, d.ID, caller, KindCannotPerformAction, reportable)
	case err != nil:
		return nil, s.storeErr(op, c.ID, err)
	}

	d.Status = domain.DeliveryStatusInConflict
	d.ConflictID = c.ID
	s.recorder.DeliveryTransition(string(d.Status))

	s.publisher.Publish(events.New(events.NewConflict, c.ID,
		events.Parties{ClientID: d.ClientID, DriverID: d.DriverID},
		ConflictPayload{Conflict: summarizeConflict(c), Delivery: summarize(d)}))

	return c, nil
}

// reportLocation validates the supplied position. Operators may omit it, in
// which case the driver's last known position is used.
func (s *ConflictService) reportLocation(ctx context.Context, op string, d *domain.Delivery, caller domain.Caller, p *domain.GeoPoint) (domain.GeoPoint, error) {
	if p != nil {
		if !p.Valid() {
			return domain.GeoPoint{}, fail(op, KindInvalidLocation)
		}
		return *p, nil
	}
	if !caller.IsOperator() || d.DriverID == "" {
		return domain.GeoPoint{}, fail(op, KindInvalidLocation)
	}

	last, err := s.positions.GetLocation(ctx, d.DriverID)
	if err != nil {
		s.log.Warn("driver position lookup failed", logx.String("driver_id", d.DriverID), logx.Err(err))
		return domain.GeoPoint{}, fail(op, KindInvalidLocation)
	}
	if last == nil || !last.Valid() {
		return domain.GeoPoint{}, fail(op, KindInvalidLocation)
	}
	return *last, nil
}

// Assign hands an opened conflict to a backup driver. Assigner and assignee
// are set by one conditional update; later attempts get ConflictAssigned.
func (s *ConflictService) Assign(ctx context.Context, caller domain.Caller, conflictID, backupDriverID string) (*domain.Conflict, error) {
	const op = "conflict.assign"

	if !caller.IsOperator() {
		return nil, fail(op, KindForbiddenAccess)
	}
	if backupDriverID == "" {
		return nil, invalid(op, "backup driver id is required")
	}

	c, err := s.load(ctx, op, conflictID)
	if err != nil {
		return nil, err
	}
	if err := assignable(op, c); err != nil {
		return nil, err
	}

	backup, err := s.store.Users().GetByID(ctx, backupDriverID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fail(op, KindNotFound)
		}
		return nil, s.storeErr(op, c.ID, err)
	}
	if backup.Role != domain.RoleDriver {
		return nil, invalid(op, "backup must be a driver")
	}

	now := s.now().UTC()
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.Conflicts().Assign(ctx, c.ID, caller.UserID, backupDriverID, now); err != nil {
			return err
		}
		return tx.Deliveries().ResumeFromConflict(ctx, c.DeliveryID, false, now)
	})
	if errors.Is(err, repository.ErrStateChanged) {
		latest, lerr := s.load(ctx, op, conflictID)
		if lerr != nil {
			return nil, lerr
		}
		if err := assignable(op, latest); err != nil {
			return nil, err
		}
		return nil, fail(op, KindCannotPerformAction)
	}
	if err != nil {
		return nil, s.storeErr(op, c.ID, err)
	}

	c.AssignerID = caller.UserID
	c.AssigneeID = backupDriverID
	c.AssignedAt = now
	s.recorder.DeliveryTransition(string(domain.DeliveryStatusStarted))

	if err := s.availability.MarkBusy(ctx, backupDriverID); err != nil {
		s.log.Warn("mark backup driver busy", logx.String("driver_id", backupDriverID), logx.Err(err))
	}

	d, err := s.store.Deliveries().GetByID(ctx, c.DeliveryID)
	if err != nil {
		// The assignment is committed; the event still goes out without the
		// delivery detail.
		s.log.Warn("reload assigned delivery", logx.String("delivery_id", c.DeliveryID), logx.Err(err))
		d = &domain.Delivery{ID: c.DeliveryID}
	}

	// The backup now carries the package; the original driver is free for
	// new offers.
	if d.DriverID != "" && d.DriverID != backupDriverID {
		s.deliveries.release(ctx, d.DriverID)
	}

	s.publisher.Publish(events.New(events.NewAssignment, c.ID,
		events.Parties{ClientID: d.ClientID, DriverID: d.DriverID, AssignerID: c.AssignerID, AssigneeID: c.AssigneeID},
		ConflictPayload{Conflict: summarizeConflict(c), Delivery: summarize(d)}))

	return c, nil
}

func assignable(op string, c *domain.Conflict) error {
	if c.Status != domain.ConflictStatusOpened {
		return fail(op, KindCannotPerformAction)
	}
	if c.IsAssigned() {
		return fail(op, KindConflictAssigned)
	}
	return nil
}

// Resolve lets the assignee finish the delivery with the handoff code. The
// conflict closes in the same transaction as the termination.
func (s *ConflictService) Resolve(ctx context.Context, caller domain.Caller, conflictID, code string) (*domain.Conflict, error) {
	const op = "conflict.resolve"

	c, err := s.load(ctx, op, conflictID)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.ConflictStatusOpened {
		return nil, fail(op, KindCannotPerformAction)
	}
	if c.AssigneeID == "" || c.AssigneeID != caller.UserID {
		return nil, fail(op, KindForbiddenAccess)
	}

	d, err := s.deliveries.load(ctx, op, c.DeliveryID)
	if err != nil {
		return nil, err
	}
	if err := checkDelivery(op, d, caller, statusIn(domain.DeliveryStatusStarted), codeMatches(code)); err != nil {
		return nil, err
	}

	var closedAt time.Time
	err = s.deliveries.terminate(ctx, op, d, func(ctx context.Context, tx repository.Store, at time.Time) error {
		closedAt = at
		return tx.Conflicts().Close(ctx, c.ID, domain.ConflictStatusClosed, at)
	})
	if err != nil {
		return nil, err
	}

	c.Status = domain.ConflictStatusClosed
	c.ClosedAt = closedAt

	if err := s.availability.MarkAvailable(ctx, c.AssigneeID); err != nil {
		s.log.Warn("mark backup driver available", logx.String("driver_id", c.AssigneeID), logx.Err(err))
	}

	s.publisher.Publish(events.New(events.ConflictSolved, c.ID,
		events.Parties{ClientID: d.ClientID, AssignerID: c.AssignerID, AssigneeID: c.AssigneeID},
		ConflictRef{ConflictID: c.ID, DeliveryID: c.DeliveryID}))

	return c, nil
}

// Cancel withdraws an opened, unassigned conflict and resumes the delivery.
func (s *ConflictService) Cancel(ctx context.Context, caller domain.Caller, conflictID string) (*domain.Conflict, error) {
	const op = "conflict.cancel"

	if !caller.IsOperator() {
		return nil, fail(op, KindForbiddenAccess)
	}

	c, err := s.load(ctx, op, conflictID)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.ConflictStatusOpened || c.IsAssigned() {
		return nil, fail(op, KindCannotPerformAction)
	}

	now := s.now().UTC()
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.Conflicts().Close(ctx, c.ID, domain.ConflictStatusCancelled, now); err != nil {
			return err
		}
		return tx.Deliveries().ResumeFromConflict(ctx, c.DeliveryID, true, now)
	})
	if errors.Is(err, repository.ErrStateChanged) {
		return nil, fail(op, KindCannotPerformAction)
	}
	if err != nil {
		return nil, s.storeErr(op, c.ID, err)
	}

	c.Status = domain.ConflictStatusCancelled
	c.ClosedAt = now
	s.recorder.DeliveryTransition(string(domain.DeliveryStatusStarted))

	parties := events.Parties{}
	if d, err := s.store.Deliveries().GetByID(ctx, c.DeliveryID); err == nil {
		parties.ClientID, parties.DriverID = d.ClientID, d.DriverID
	} else {
		s.log.Warn("reload resumed delivery", logx.String("delivery_id", c.DeliveryID), logx.Err(err))
	}

	s.publisher.Publish(events.New(events.ConflictCancelled, c.ID, parties,
		ConflictRef{ConflictID: c.ID, DeliveryID: c.DeliveryID}))

	return c, nil
}

// Get returns a conflict to operators, its reporter and its assignee.
func (s *ConflictService) Get(ctx context.Context, caller domain.Caller, conflictID string) (*domain.Conflict, error) {
	const op = "conflict.get"

	c, err := s.load(ctx, op, conflictID)
	if err != nil {
		return nil, err
	}
	if caller.IsOperator() || caller.UserID == c.ReporterID || (c.AssigneeID != "" && caller.UserID == c.AssigneeID) {
		return c, nil
	}
	return nil, fail(op, KindForbiddenAccess)
}

// ConflictPage is one page of a conflict listing.
type ConflictPage struct {
	Items []*domain.Conflict
	Page  int
	Size  int
	Total int
}

// ListUnassigned returns opened conflicts waiting for a backup driver,
// oldest first. page is 1-based.
func (s *ConflictService) ListUnassigned(ctx context.Context, caller domain.Caller, page, size int) (*ConflictPage, error) {
	const op = "conflict.list_unassigned"

	if !caller.IsOperator() {
		return nil, fail(op, KindForbiddenAccess)
	}
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}

	items, total, err := s.store.Conflicts().ListUnassigned(ctx, (page-1)*size, size)
	if err != nil {
		return nil, s.storeErr(op, "", err)
	}
	return &ConflictPage{Items: items, Page: page, Size: size, Total: total}, nil
}

func (s *ConflictService) load(ctx context.Context, op, id string) (*domain.Conflict, error) {
	if id == "" {
		return nil, invalid(op, "conflict id is required")
	}
	c, err := s.store.Conflicts().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fail(op, KindConflictNotFound)
		}
		return nil, s.storeErr(op, id, err)
	}
	return c, nil
}

func (s *ConflictService) storeErr(op, id string, err error) error {
	s.log.Error("conflict store failure", logx.String("op", op), logx.String("conflict_id", id), logx.Err(err))
	return internal(op, err)
}
