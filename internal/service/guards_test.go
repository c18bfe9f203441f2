package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delivery/internal/domain"
	"delivery/internal/events"
)

func TestGuards(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	d := func(status domain.DeliveryStatus) *domain.Delivery {
		return &domain.Delivery{ClientID: "c", DriverID: "d", Status: status, Code: "AB12C", CreatedAt: created}
	}
	c := domain.Caller{UserID: "d", Role: domain.RoleDriver}

	testCases := []struct {
		name  string
		guard deliveryGuard
		d     *domain.Delivery
		want  error
	}{
		{"owner", ownedByCaller, d(domain.DeliveryStatusInitial), ErrForbiddenAccess},
		{"assigned driver", assignedToCaller, d(domain.DeliveryStatusStarted), nil},
		{"acceptable initial", acceptable, &domain.Delivery{Status: domain.DeliveryStatusInitial}, nil},
		{"acceptable assigned", acceptable, d(domain.DeliveryStatusPendingReception), ErrAlreadyAssigned},
		{"acceptable cancelled", acceptable, d(domain.DeliveryStatusCancelled), ErrAlreadyCancelled},
		{"expired", notExpired(180*time.Second, created.Add(200*time.Second)), d(domain.DeliveryStatusInitial), ErrDeliveryTimeout},
		{"at the boundary", notExpired(180*time.Second, created.Add(180*time.Second)), d(domain.DeliveryStatusInitial), nil},
		{"cancellable pending", cancellable, d(domain.DeliveryStatusToBeConfirmed), nil},
		{"cancellable started", cancellable, d(domain.DeliveryStatusStarted), ErrCannotPerformAction},
		{"reportable in conflict", reportable, d(domain.DeliveryStatusInConflict), ErrAlreadyReported},
		{"reportable terminated", reportable, d(domain.DeliveryStatusTerminated), ErrCannotPerformAction},
		{"reportable started", reportable, d(domain.DeliveryStatusStarted), nil},
		{"code exact", codeMatches("AB12C"), d(domain.DeliveryStatusStarted), nil},
		{"code lower case", codeMatches("ab12c"), d(domain.DeliveryStatusStarted), ErrInvalidCode},
		{"code prefix", codeMatches("AB12"), d(domain.DeliveryStatusStarted), ErrInvalidCode},
		{"empty stored code", codeMatches(""), &domain.Delivery{}, ErrInvalidCode},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.guard(tc.d, c)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCheckDelivery_StopsAtFirstFailureAndTagsOp(t *testing.T) {
	t.Parallel()

	d := &domain.Delivery{ClientID: "c", Status: domain.DeliveryStatusStarted}
	err := checkDelivery("delivery.test", d, domain.Caller{UserID: "x"}, ownedByCaller, codeMatches("nope"))

	require.ErrorIs(t, err, ErrForbiddenAccess)
	assert.False(t, errors.Is(err, ErrInvalidCode))
	assert.Contains(t, err.Error(), "delivery.test")
	assert.Equal(t, KindForbiddenAccess, KindOf(err))
}

func TestEdge_FollowsTransitionGraph(t *testing.T) {
	t.Parallel()

	allowed := [][2]domain.DeliveryStatus{
		{domain.DeliveryStatusInitial, domain.DeliveryStatusPendingReception},
		{domain.DeliveryStatusPendingReception, domain.DeliveryStatusToBeConfirmed},
		{domain.DeliveryStatusToBeConfirmed, domain.DeliveryStatusStarted},
		{domain.DeliveryStatusStarted, domain.DeliveryStatusInConflict},
		{domain.DeliveryStatusInConflict, domain.DeliveryStatusStarted},
		{domain.DeliveryStatusStarted, domain.DeliveryStatusTerminated},
	}
	for _, e := range allowed {
		assert.NoError(t, edge("delivery.test", e[0], e[1]), "%s -> %s", e[0], e[1])
	}

	denied := [][2]domain.DeliveryStatus{
		{domain.DeliveryStatusInitial, domain.DeliveryStatusStarted},
		{domain.DeliveryStatusStarted, domain.DeliveryStatusCancelled},
		{domain.DeliveryStatusInConflict, domain.DeliveryStatusTerminated},
		{domain.DeliveryStatusTerminated, domain.DeliveryStatusStarted},
		{domain.DeliveryStatusCancelled, domain.DeliveryStatusPendingReception},
	}
	for _, e := range denied {
		err := edge("delivery.test", e[0], e[1])
		assert.ErrorIs(t, err, ErrCannotPerformAction, "%s -> %s", e[0], e[1])
	}
}

func TestStep_RejectsEdgeOutsideGraph(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	d := f.seedStarted(t, "7K2QZ")

	err := f.deliv.step(context.Background(), "delivery.test", d, client, domain.DeliveryStatusCancelled, nil)
	require.ErrorIs(t, err, ErrCannotPerformAction)
	assert.Equal(t, domain.DeliveryStatusStarted, f.reload(t, d.ID).Status)
}

func TestErrorKinds(t *testing.T) {
	t.Parallel()

	assert.ErrorIs(t, fail("op", KindConflictAssigned), ErrCannotPerformAction)
	assert.False(t, errors.Is(fail("op", KindCannotPerformAction), ErrConflictAssigned))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))

	cause := errors.New("connection refused")
	err := internal("op", cause)
	assert.ErrorIs(t, err, ErrInternal)
	assert.ErrorIs(t, err, cause)
}

func TestGenerateCode(t *testing.T) {
	t.Parallel()

	for _, n := range []int{4, 5, 6, 8, 0} {
		code, err := generateCode(n)
		require.NoError(t, err)
		want := n
		if n == 0 {
			want = DefaultCodeLength
		}
		assert.Len(t, code, want)
		assert.Equal(t, strings.ToUpper(code), code)
		assert.NotContains(t, code, "=")
	}
}

func TestDistancePricer(t *testing.T) {
	t.Parallel()
	p := DefaultPricer()
	ctx := context.Background()
	a := domain.GeoPoint{Lat: 4.0511, Lng: 9.7679}

	same, err := p.Price(ctx, PriceInput{PackageType: "small", Departure: a, Destination: a, NearbyDrivers: 5})
	require.NoError(t, err)
	assert.True(t, same.Equal(decimal.NewFromInt(500)))

	far := domain.GeoPoint{Lat: 4.1411, Lng: 9.7679} // about 10 km north
	normal, err := p.Price(ctx, PriceInput{PackageType: "large", Departure: a, Destination: far, NearbyDrivers: 5})
	require.NoError(t, err)
	assert.True(t, normal.GreaterThan(decimal.NewFromInt(3400)) && normal.LessThan(decimal.NewFromInt(3600)), normal.String())

	surged, err := p.Price(ctx, PriceInput{PackageType: "large", Departure: a, Destination: far, NearbyDrivers: 1})
	require.NoError(t, err)
	assert.True(t, surged.GreaterThan(normal))
}

func TestSettingsService_Update(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewStaticSettings(domain.Settings{TTL: DefaultTTL, SearchRadius: DefaultSearchRadius})
	svc := NewSettingsService(store)

	_, err := svc.Update(ctx, operator, domain.Settings{TTL: time.Minute, SearchRadius: 1000})
	assert.ErrorIs(t, err, ErrForbiddenAccess)

	admin := domain.Caller{UserID: "admin-1", Role: domain.RoleAdmin}
	_, err = svc.Update(ctx, admin, domain.Settings{TTL: 0, SearchRadius: 1000})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Update(ctx, admin, domain.Settings{TTL: time.Minute, SearchRadius: 1000})
	require.NoError(t, err)
	got, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, got.TTL)
}

func TestDriverService_UpdateLocationStreamsToActiveDelivery(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	p := domain.GeoPoint{Lat: 4.06, Lng: 9.75}

	require.NoError(t, f.drivers.UpdateLocation(ctx, driver, p))
	assert.Empty(t, f.publisher.named(events.NewPosition), "no active delivery")

	d := f.started(t)
	require.NoError(t, f.drivers.UpdateLocation(ctx, driver, p))

	positions := f.publisher.named(events.NewPosition)
	require.Len(t, positions, 1)
	assert.Equal(t, d.ID, positions[0].EntityID)
	assert.Equal(t, client.UserID, positions[0].Parties.ClientID)

	assert.ErrorIs(t, f.drivers.UpdateLocation(ctx, driver, domain.GeoPoint{}), ErrInvalidLocation)
	assert.ErrorIs(t, f.drivers.UpdateLocation(ctx, client, p), ErrForbiddenAccess)

	f.locations.UpdateErr = errors.New("redis down")
	assert.ErrorIs(t, f.drivers.UpdateLocation(ctx, driver, p), ErrInternal)
}

func TestDriverService_SetDriverOffline(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.drivers.UpdateLocation(ctx, driver, domain.GeoPoint{Lat: 4.06, Lng: 9.75}))
	require.NoError(t, f.drivers.SetDriverOffline(ctx, driver))

	last, err := f.locations.GetLocation(ctx, driver.UserID)
	require.NoError(t, err)
	assert.Nil(t, last)
}
