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

// DeliveryConfig holds the static dispatch rules.
type DeliveryConfig struct {
	CodeLength   int
	PackageTypes []string      // empty allows any type
	AcceptCost   int64         // wallet points debited on acceptance
	LockTTL      time.Duration // per-driver accept lock
}

// DeliveryDeps holds DeliveryService collaborators. Locker, Recorder, Log
// and Now are optional.
type DeliveryDeps struct {
	Store        repository.Store
	Finder       DriverFinder
	Availability DriverAvailability
	Locker       DriverLocker
	Settings     SettingsProvider
	Pricer       Pricer
	Publisher    events.Publisher
	Recorder     TransitionRecorder
	Log          logx.Logger
	Now          func() time.Time
}

// DeliveryService is the delivery state machine. Every transition is a
// conditional store update followed by the events it produces.
type DeliveryService struct {
	store        repository.Store
	finder       DriverFinder
	availability DriverAvailability
	locker       DriverLocker
	settings     SettingsProvider
	pricer       Pricer
	publisher    events.Publisher
	recorder     TransitionRecorder
	log          logx.Logger
	now          func() time.Time
	cfg          DeliveryConfig
}

// NewDeliveryService creates a new DeliveryService.
func NewDeliveryService(deps DeliveryDeps, cfg DeliveryConfig) *DeliveryService {
	s := &DeliveryService{
		store:        deps.Store,
		finder:       deps.Finder,
		availability: deps.Availability,
		locker:       deps.Locker,
		settings:     deps.Settings,
		pricer:       deps.Pricer,
		publisher:    deps.Publisher,
		recorder:     deps.Recorder,
		log:          deps.Log,
		now:          deps.Now,
		cfg:          cfg,
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
	if s.cfg.CodeLength <= 0 {
		s.cfg.CodeLength = DefaultCodeLength
	}
	if s.cfg.LockTTL <= 0 {
		s.cfg.LockTTL = 10 * time.Second
	}
	return s
}

// CreateDeliveryRequest contains the parameters for creating a delivery.
type CreateDeliveryRequest struct {
	PackageType string
	Departure   domain.Place
	Destination domain.Place
	Recipients  domain.Recipients
}

// Create persists a new initial delivery and offers it to the drivers around
// the departure point.
func (s *DeliveryService) Create(ctx context.Context, caller domain.Caller, req CreateDeliveryRequest) (*domain.Delivery, error) {
	const op = "delivery.create"

	if caller.Role != domain.RoleClient || caller.UserID == "" {
		return nil, fail(op, KindForbiddenAccess)
	}
	if err := s.validateCreateRequest(ctx, op, req); err != nil {
		return nil, err
	}

	st, err := s.currentSettings(ctx, op)
	if err != nil {
		return nil, err
	}

	// The finder is advisory: a failed lookup still creates the delivery.
	nearby, err := s.finder.FindNearbyDrivers(ctx, req.Departure.Point, st.SearchRadius)
	if err != nil {
		s.log.Warn("nearby driver lookup failed", logx.String("client_id", caller.UserID), logx.Err(err))
		nearby = nil
	}
	candidates := make([]string, 0, len(nearby))
	for _, p := range nearby {
		if p.DriverID != caller.UserID {
			candidates = append(candidates, p.DriverID)
		}
	}

	price, err := s.pricer.Price(ctx, PriceInput{
		PackageType:   req.PackageType,
		Departure:     req.Departure.Point,
		Destination:   req.Destination.Point,
		NearbyDrivers: len(candidates),
	})
	if err != nil {
		return nil, s.internalErr(op, "", err)
	}

	code, err := generateCode(s.cfg.CodeLength)
	if err != nil {
		return nil, s.internalErr(op, "", err)
	}

	d := &domain.Delivery{
		ID:          uuid.New().String(),
		ClientID:    caller.UserID,
		Status:      domain.DeliveryStatusInitial,
		Code:        code,
		PackageType: req.PackageType,
		Departure:   req.Departure,
		Destination: req.Destination,
		Recipients:  req.Recipients,
		Price:       price,
		Candidates:  candidates,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.Deliveries().Create(ctx, d); err != nil {
		return nil, s.internalErr(op, d.ID, err)
	}
	s.recorder.DeliveryTransition(string(d.Status))

	s.publisher.Publish(events.New(events.NewDelivery, d.ID,
		events.Parties{ClientID: d.ClientID, Candidates: d.Candidates},
		summarize(d)))

	return d, nil
}

func (s *DeliveryService) validateCreateRequest(ctx context.Context, op string, req CreateDeliveryRequest) error {
	if !req.Departure.Point.Valid() || !req.Destination.Point.Valid() {
		return fail(op, KindInvalidLocation)
	}
	if req.PackageType == "" {
		return invalid(op, "package type is required")
	}
	if len(s.cfg.PackageTypes) > 0 && !slices.Contains(s.cfg.PackageTypes, req.PackageType) {
		return fail(op, KindUnsupportedType)
	}

	primary := req.Recipients.Main
	if primary.Name == "" || primary.Phone == "" {
		return invalid(op, "main recipient needs a name and a phone")
	}

	// Linked recipients must be known users.
	all := append([]domain.Recipient{primary}, req.Recipients.Others...)
	for _, r := range all {
		if r.UserID == "" {
			continue
		}
		if _, err := s.store.Users().GetByID(ctx, r.UserID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return invalid(op, "unknown recipient user "+r.UserID)
			}
			return s.internalErr(op, "", err)
		}
	}
	return nil
}

// Accept assigns the delivery to the calling driver. The first accepted
// conditional update wins; every other driver gets AlreadyAssigned.
func (s *DeliveryService) Accept(ctx context.Context, caller domain.Caller, id string) (*domain.Delivery, error) {
	const op = "delivery.accept"

	if caller.Role != domain.RoleDriver || caller.UserID == "" {
		return nil, fail(op, KindForbiddenAccess)
	}

	d, err := s.load(ctx, op, id)
	if err != nil {
		return nil, err
	}

	st, err := s.currentSettings(ctx, op)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if err := checkDelivery(op, d, caller, acceptable, notExpired(st.TTL, now)); err != nil {
		return nil, err
	}

	if s.locker != nil {
		release, acquired, err := s.locker.AcquireDriverLock(ctx, caller.UserID, s.cfg.LockTTL)
		if err != nil {
			return nil, s.internalErr(op, id, err)
		}
		if !acquired {
			return nil, fail(op, KindCannotPerformAction)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.log.Warn("release driver lock", logx.String("driver_id", caller.UserID), logx.Err(err))
			}
		}()
	}

	if err := edge(op, d.Status, domain.DeliveryStatusPendingReception); err != nil {
		return nil, err
	}

	// One delivery at a time per driver.
	active, err := s.store.Deliveries().GetActiveByDriverID(ctx, caller.UserID)
	if err != nil {
		return nil, s.internalErr(op, id, err)
	}
	if active != nil {
		return nil, fail(op, KindCannotPerformAction)
	}

	if err := s.store.Deliveries().Assign(ctx, id, caller.UserID, now); err != nil {
		if errors.Is(err, repository.ErrStateChanged) {
			return nil, s.reclassify(ctx, op, id, caller, KindAlreadyAssigned, acceptable)
		}
		return nil, s.storeErr(op, id, err)
	}

	d.DriverID = caller.UserID
	d.Status = domain.DeliveryStatusPendingReception
	d.AcceptedAt = now
	s.recorder.DeliveryTransition(string(d.Status))

	if err := s.availability.MarkBusy(ctx, caller.UserID); err != nil {
		s.log.Warn("mark driver busy", logx.String("driver_id", caller.UserID), logx.Err(err))
	}

	s.publisher.Publish(events.New(events.DeliveryAccepted, d.ID,
		events.Parties{ClientID: d.ClientID, DriverID: d.DriverID},
		AcceptedPayload{DeliveryID: d.ID, Driver: s.driverInfo(ctx, caller.UserID)}))

	s.debitAcceptCost(ctx, d)

	return d, nil
}

// debitAcceptCost charges the driver's wallet. It runs after the acceptance
// commit and never undoes it.
func (s *DeliveryService) debitAcceptCost(ctx context.Context, d *domain.Delivery) {
	if s.cfg.AcceptCost <= 0 {
		return
	}

	balance, err := s.store.Users().DebitPoints(ctx, d.DriverID, s.cfg.AcceptCost)
	if err != nil {
		s.log.Warn("debit accept cost",
			logx.String("driver_id", d.DriverID),
			logx.String("delivery_id", d.ID),
			logx.Int64("points", s.cfg.AcceptCost),
			logx.Err(err))
		return
	}

	s.publisher.Publish(events.New(events.PointWithdrawn, d.ID,
		events.Parties{DriverID: d.DriverID},
		PointsPayload{DriverID: d.DriverID, DeliveryID: d.ID, Points: s.cfg.AcceptCost, Balance: balance}))
}

func (s *DeliveryService) driverInfo(ctx context.Context, driverID string) DriverInfo {
	info := DriverInfo{ID: driverID}
	u, err := s.store.Users().GetByID(ctx, driverID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.log.Warn("load driver profile", logx.String("driver_id", driverID), logx.Err(err))
		}
		return info
	}
	info.Name = u.Name
	info.Phone = u.Phone
	return info
}

// SignalArrival lets the assigned driver announce the pickup.
func (s *DeliveryService) SignalArrival(ctx context.Context, caller domain.Caller, id string) (*domain.Delivery, error) {
	const op = "delivery.signal_arrival"

	d, err := s.load(ctx, op, id)
	if err != nil {
		return nil, err
	}
	guards := []deliveryGuard{assignedToCaller, notCancelled, statusIn(domain.DeliveryStatusPendingReception)}
	if err := checkDelivery(op, d, caller, guards...); err != nil {
		return nil, err
	}

	if err := s.step(ctx, op, d, caller, domain.DeliveryStatusToBeConfirmed, guards); err != nil {
		return nil, err
	}

	s.publisher.Publish(events.New(events.DriverOnSite, d.ID,
		events.Parties{ClientID: d.ClientID, DriverID: d.DriverID},
		DeliveryRef{DeliveryID: d.ID}))
	return d, nil
}

// ConfirmDeposit advances the handoff by one step on the client's word:
// pendingReception to toBeConfirmed, or toBeConfirmed to started.
func (s *DeliveryService) ConfirmDeposit(ctx context.Context, caller domain.Caller, id string) (*domain.Delivery, error) {
	const op = "delivery.confirm_deposit"

	d, err := s.load(ctx, op, id)
	if err != nil {
		return nil, err
	}
	guards := []deliveryGuard{
		ownedByCaller,
		notCancelled,
		statusIn(domain.DeliveryStatusPendingReception, domain.DeliveryStatusToBeConfirmed),
	}
	if err := checkDelivery(op, d, caller, guards...); err != nil {
		return nil, err
	}

	to, name := domain.DeliveryStatusStarted, events.DeliveryStarted
	if d.Status == domain.DeliveryStatusPendingReception {
		to, name = domain.DeliveryStatusToBeConfirmed, events.DriverOnSite
	}
	if err := s.step(ctx, op, d, caller, to, guards); err != nil {
		return nil, err
	}

	s.publisher.Publish(events.New(name, d.ID,
		events.Parties{ClientID: d.ClientID, DriverID: d.DriverID},
		DeliveryRef{DeliveryID: d.ID}))
	return d, nil
}

// step moves d from its current status to to and updates d in place.
func (s *DeliveryService) step(ctx context.Context, op string, d *domain.Delivery, caller domain.Caller, to domain.DeliveryStatus, guards []deliveryGuard) error {
	if err := edge(op, d.Status, to); err != nil {
		return err
	}

	now := s.now().UTC()
	if err := s.store.Deliveries().Transition(ctx, d.ID, d.Status, to, now); err != nil {
		if errors.Is(err, repository.ErrStateChanged) {
			return s.reclassify(ctx, op, d.ID, caller, KindCannotPerformAction, guards...)
		}
		return s.storeErr(op, d.ID, err)
	}

	d.Status = to
	switch to {
	case domain.DeliveryStatusStarted:
		d.StartedAt = now
	case domain.DeliveryStatusTerminated:
		d.EndedAt = now
	case domain.DeliveryStatusCancelled:
		d.CancelledAt = now
	}
	s.recorder.DeliveryTransition(string(to))
	return nil
}

// Terminate completes a started delivery when the driver supplies the exact
// handoff code.
func (s *DeliveryService) Terminate(ctx context.Context, caller domain.Caller, id, code string) (*domain.Delivery, error) {
	const op = "delivery.terminate"

	d, err := s.load(ctx, op, id)
	if err != nil {
		return nil, err
	}
	err = checkDelivery(op, d, caller,
		assignedToCaller,
		notCancelled,
		noOpenConflict,
		statusIn(domain.DeliveryStatusStarted),
		codeMatches(code),
	)
	if err != nil {
		return nil, err
	}

	if err := s.terminate(ctx, op, d, nil); err != nil {
		return nil, err
	}
	return d, nil
}

// terminate commits started -> terminated, with extra running in the same
// transaction, then releases the driver and publishes delivery-end.
func (s *DeliveryService) terminate(ctx context.Context, op string, d *domain.Delivery, extra func(ctx context.Context, tx repository.Store, at time.Time) error) error {
	if err := edge(op, d.Status, domain.DeliveryStatusTerminated); err != nil {
		return err
	}

	now := s.now().UTC()
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.Deliveries().Transition(ctx, d.ID, domain.DeliveryStatusStarted, domain.DeliveryStatusTerminated, now); err != nil {
			return err
		}
		if extra != nil {
			return extra(ctx, tx, now)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrStateChanged) {
			return fail(op, KindCannotPerformAction)
		}
		return s.storeErr(op, d.ID, err)
	}

	d.Status = domain.DeliveryStatusTerminated
	d.EndedAt = now
	s.recorder.DeliveryTransition(string(d.Status))

	s.release(ctx, d.DriverID)

	s.publisher.Publish(events.New(events.DeliveryEnd, d.ID,
		events.Parties{ClientID: d.ClientID, DriverID: d.DriverID},
		DeliveryRef{DeliveryID: d.ID}))
	return nil
}

// Cancel withdraws a delivery before the package is handed over.
func (s *DeliveryService) Cancel(ctx context.Context, caller domain.Caller, id string) (*domain.Delivery, error) {
	const op = "delivery.cancel"

	d, err := s.load(ctx, op, id)
	if err != nil {
		return nil, err
	}
	guards := []deliveryGuard{ownedByCaller, cancellable}
	if err := checkDelivery(op, d, caller, guards...); err != nil {
		return nil, err
	}

	if err := s.step(ctx, op, d, caller, domain.DeliveryStatusCancelled, guards); err != nil {
		return nil, err
	}

	if d.DriverID != "" {
		s.release(ctx, d.DriverID)
	}

	s.publisher.Publish(events.New(events.DeliveryCancelled, d.ID,
		events.Parties{ClientID: d.ClientID, DriverID: d.DriverID, Candidates: d.Candidates},
		DeliveryRef{DeliveryID: d.ID}))
	return d, nil
}

// Get returns a delivery to its participants, to operators, to the
// candidate drivers while the offer is open, and to the backup driver of its
// opened conflict.
func (s *DeliveryService) Get(ctx context.Context, caller domain.Caller, id string) (*domain.Delivery, error) {
	const op = "delivery.get"

	d, err := s.load(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if d.Status == domain.DeliveryStatusInitial && slices.Contains(d.Candidates, caller.UserID) {
		return d, nil
	}
	if d.ConflictID != "" && caller.Role == domain.RoleDriver && !d.IsParticipant(caller.UserID) {
		c, err := s.store.Conflicts().GetOpenByDeliveryID(ctx, d.ID)
		if err != nil {
			return nil, s.storeErr(op, d.ID, err)
		}
		if c != nil && c.AssigneeID == caller.UserID {
			return d, nil
		}
	}
	if err := checkDelivery(op, d, caller, participantOrOperator); err != nil {
		return nil, err
	}
	return d, nil
}

// ExpireStale cancels initial deliveries whose acceptance window has passed
// and returns how many were cancelled.
func (s *DeliveryService) ExpireStale(ctx context.Context, limit int) (int, error) {
	const op = "delivery.expire"

	st, err := s.currentSettings(ctx, op)
	if err != nil {
		return 0, err
	}
	if st.TTL <= 0 {
		return 0, nil
	}

	now := s.now().UTC()
	stale, err := s.store.Deliveries().ListExpired(ctx, now.Add(-st.TTL), limit)
	if err != nil {
		return 0, s.internalErr(op, "", err)
	}

	expired := 0
	for _, d := range stale {
		if !d.Status.CanTransitionTo(domain.DeliveryStatusCancelled) {
			continue
		}
		err := s.store.Deliveries().Transition(ctx, d.ID, domain.DeliveryStatusInitial, domain.DeliveryStatusCancelled, now)
		if errors.Is(err, repository.ErrStateChanged) {
			// Accepted or cancelled since the listing.
			continue
		}
		if err != nil {
			return expired, s.internalErr(op, d.ID, err)
		}
		expired++
		s.recorder.DeliveryTransition(string(domain.DeliveryStatusCancelled))

		ref := DeliveryRef{DeliveryID: d.ID}
		s.publisher.Publish(events.New(events.DeliveryExpired, d.ID, events.Parties{ClientID: d.ClientID}, ref))
		s.publisher.Publish(events.New(events.DeliveryCancelled, d.ID, events.Parties{Candidates: d.Candidates}, ref))
	}
	return expired, nil
}

// edge rejects a move the delivery transition graph does not allow.
func edge(op string, from, to domain.DeliveryStatus) error {
	if !from.CanTransitionTo(to) {
		return fail(op, KindCannotPerformAction)
	}
	return nil
}

func (s *DeliveryService) release(ctx context.Context, driverID string) {
	if err := s.availability.MarkAvailable(ctx, driverID); err != nil {
		s.log.Warn("mark driver available", logx.String("driver_id", driverID), logx.Err(err))
	}
}

func (s *DeliveryService) load(ctx context.Context, op, id string) (*domain.Delivery, error) {
	if id == "" {
		return nil, invalid(op, "delivery id is required")
	}
	d, err := s.store.Deliveries().GetByID(ctx, id)
	if err != nil {
		return nil, s.storeErr(op, id, err)
	}
	return d, nil
}

// reclassify reloads a delivery after a lost conditional update and reports
// the guard that now fails, or fallback when they all pass.
func (s *DeliveryService) reclassify(ctx context.Context, op, id string, caller domain.Caller, fallback Kind, guards ...deliveryGuard) error {
	d, err := s.load(ctx, op, id)
	if err != nil {
		return err
	}
	if err := checkDelivery(op, d, caller, guards...); err != nil {
		return err
	}
	return fail(op, fallback)
}

func (s *DeliveryService) currentSettings(ctx context.Context, op string) (domain.Settings, error) {
	st, err := s.settings.Settings(ctx)
	if err != nil {
		return domain.Settings{}, s.internalErr(op, "", err)
	}
	if st.SearchRadius <= 0 {
		st.SearchRadius = DefaultSearchRadius
	}
	return st, nil
}

func (s *DeliveryService) storeErr(op, id string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fail(op, KindNotFound)
	}
	return s.internalErr(op, id, err)
}

func (s *DeliveryService) internalErr(op, id string, err error) error {
	s.log.Error("delivery store failure", logx.String("op", op), logx.String("delivery_id", id), logx.Err(err))
	return internal(op, err)
}
