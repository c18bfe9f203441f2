package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"delivery/internal/domain"
	"delivery/internal/events"
	"delivery/internal/repository/memory"
)

// ──────────────────────────────────────────────
// MOCK LOCATION STORE
// ──────────────────────────────────────────────

// mockLocations implements LocationStore over a map.
type mockLocations struct {
	mu        sync.Mutex
	positions map[string]domain.GeoPoint
	busy      map[string]bool

	nearby    []domain.DriverPosition
	NearbyErr error
	UpdateErr error

	FindCalls   int32
	LastRadius  float64
	MarkBusyErr error
}

func newMockLocations(nearby ...string) *mockLocations {
	m := &mockLocations{
		positions: make(map[string]domain.GeoPoint),
		busy:      make(map[string]bool),
	}
	for _, id := range nearby {
		m.nearby = append(m.nearby, domain.DriverPosition{DriverID: id, Point: domain.GeoPoint{Lat: 4.05, Lng: 9.7}})
	}
	return m
}

func (m *mockLocations) FindNearbyDrivers(ctx context.Context, p domain.GeoPoint, radiusMeters float64) ([]domain.DriverPosition, error) {
	atomic.AddInt32(&m.FindCalls, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastRadius = radiusMeters
	if m.NearbyErr != nil {
		return nil, m.NearbyErr
	}
	return append([]domain.DriverPosition(nil), m.nearby...), nil
}

func (m *mockLocations) UpdateLocation(ctx context.Context, driverID string, p domain.GeoPoint) error {
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[driverID] = p
	return nil
}

func (m *mockLocations) GetLocation(ctx context.Context, driverID string) (*domain.GeoPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[driverID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *mockLocations) RemoveLocation(ctx context.Context, driverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, driverID)
	return nil
}

func (m *mockLocations) MarkBusy(ctx context.Context, driverID string) error {
	if m.MarkBusyErr != nil {
		return m.MarkBusyErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy[driverID] = true
	return nil
}

func (m *mockLocations) MarkAvailable(ctx context.Context, driverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.busy, driverID)
	return nil
}

func (m *mockLocations) isBusy(driverID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busy[driverID]
}

// ──────────────────────────────────────────────
// MOCK LOCKER
// ──────────────────────────────────────────────

type mockLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMockLocker() *mockLocker {
	return &mockLocker{held: make(map[string]bool)}
}

func (l *mockLocker) AcquireDriverLock(ctx context.Context, driverID string, ttl time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[driverID] {
		return nil, false, nil
	}
	l.held[driverID] = true
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, driverID)
		return nil
	}, true, nil
}

// ──────────────────────────────────────────────
// RECORDING PUBLISHER
// ──────────────────────────────────────────────

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) named(name events.Name) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

// ──────────────────────────────────────────────
// FIXTURE
// ──────────────────────────────────────────────

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var (
	client   = domain.Caller{UserID: "client-1", Role: domain.RoleClient}
	driver   = domain.Caller{UserID: "driver-1", Role: domain.RoleDriver}
	driver2  = domain.Caller{UserID: "driver-2", Role: domain.RoleDriver}
	backup   = domain.Caller{UserID: "driver-3", Role: domain.RoleDriver}
	operator = domain.Caller{UserID: "operator-1", Role: domain.RoleOperator}
	stranger = domain.Caller{UserID: "client-2", Role: domain.RoleClient}
)

type fixture struct {
	store     *memory.Store
	locations *mockLocations
	settings  *StaticSettings
	publisher *recordingPublisher
	clock     *clock
	deliv     *DeliveryService
	conflicts *ConflictService
	drivers   *DriverService
	users     *UserService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:     memory.NewStore(),
		locations: newMockLocations("driver-1", "driver-2"),
		settings:  NewStaticSettings(domain.Settings{TTL: DefaultTTL, SearchRadius: DefaultSearchRadius}),
		publisher: &recordingPublisher{},
		clock:     &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
	}

	f.deliv = NewDeliveryService(DeliveryDeps{
		Store:        f.store,
		Finder:       f.locations,
		Availability: f.locations,
		Locker:       newMockLocker(),
		Settings:     f.settings,
		Pricer:       DefaultPricer(),
		Publisher:    f.publisher,
		Now:          f.clock.Now,
	}, DeliveryConfig{
		PackageTypes: []string{"small", "medium", "large"},
		AcceptCost:   10,
	})
	f.conflicts = NewConflictService(ConflictDeps{
		Store:        f.store,
		Deliveries:   f.deliv,
		Positions:    f.locations,
		Availability: f.locations,
		Publisher:    f.publisher,
		Now:          f.clock.Now,
	}, []string{"damaged", "accident", "unreachable"})
	f.drivers = NewDriverService(f.locations, f.store, f.publisher, nil)
	f.users = NewUserService(f.store, nil, nil)

	ctx := context.Background()
	for _, u := range []domain.User{
		{ID: client.UserID, Name: "Awa", Phone: "+237600000001", Role: domain.RoleClient},
		{ID: driver.UserID, Name: "Bello", Phone: "+237600000002", Role: domain.RoleDriver, Points: 100},
		{ID: driver2.UserID, Name: "Chantal", Phone: "+237600000003", Role: domain.RoleDriver, Points: 100},
		{ID: backup.UserID, Name: "Didier", Phone: "+237600000004", Role: domain.RoleDriver, Points: 100},
		{ID: operator.UserID, Name: "Eyenga", Phone: "+237600000005", Role: domain.RoleOperator},
	} {
		require.NoError(t, f.store.Users().Create(ctx, &u))
	}
	return f
}

func validCreateRequest() CreateDeliveryRequest {
	return CreateDeliveryRequest{
		PackageType: "small",
		Departure:   domain.Place{Point: domain.GeoPoint{Lat: 4.0511, Lng: 9.7679}, Address: "Akwa, Douala"},
		Destination: domain.Place{Point: domain.GeoPoint{Lat: 4.0600, Lng: 9.7400}, Address: "Bonapriso, Douala"},
		Recipients:  domain.Recipients{Main: domain.Recipient{Name: "Fadimatou", Phone: "+237600000009"}},
	}
}

// created returns a fresh initial delivery.
func (f *fixture) created(t *testing.T) *domain.Delivery {
	t.Helper()
	d, err := f.deliv.Create(context.Background(), client, validCreateRequest())
	require.NoError(t, err)
	return d
}

// started returns a delivery accepted by driver and confirmed up to started.
func (f *fixture) started(t *testing.T) *domain.Delivery {
	t.Helper()
	ctx := context.Background()
	d := f.created(t)
	_, err := f.deliv.Accept(ctx, driver, d.ID)
	require.NoError(t, err)
	_, err = f.deliv.ConfirmDeposit(ctx, client, d.ID)
	require.NoError(t, err)
	d, err = f.deliv.ConfirmDeposit(ctx, client, d.ID)
	require.NoError(t, err)
	require.Equal(t, domain.DeliveryStatusStarted, d.Status)
	return d
}

func (f *fixture) reload(t *testing.T, id string) *domain.Delivery {
	t.Helper()
	d, err := f.store.Deliveries().GetByID(context.Background(), id)
	require.NoError(t, err)
	return d
}

// seedStarted stores a started delivery of client and driver with a known
// code.
func (f *fixture) seedStarted(t *testing.T, code string) *domain.Delivery {
	t.Helper()
	now := f.clock.Now()
	d := &domain.Delivery{
		ID:          "delivery-" + code,
		ClientID:    client.UserID,
		DriverID:    driver.UserID,
		Status:      domain.DeliveryStatusStarted,
		Code:        code,
		PackageType: "small",
		Departure:   validCreateRequest().Departure,
		Destination: validCreateRequest().Destination,
		Recipients:  validCreateRequest().Recipients,
		CreatedAt:   now,
		AcceptedAt:  now,
		StartedAt:   now,
	}
	require.NoError(t, f.store.Deliveries().Create(context.Background(), d))
	return f.reload(t, d.ID)
}
