package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delivery/internal/domain"
	"delivery/internal/events"
)

// ──────────────────────────────────────────────
// 1. CREATION
// ──────────────────────────────────────────────

func TestCreate_PersistsInitialDeliveryAndOffersItToCandidates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	d := f.created(t)

	assert.Equal(t, domain.DeliveryStatusInitial, d.Status)
	assert.Empty(t, d.DriverID)
	assert.Len(t, d.Code, DefaultCodeLength)
	assert.True(t, d.Price.IsPositive())
	assert.ElementsMatch(t, []string{"driver-1", "driver-2"}, d.Candidates)
	assert.Equal(t, DefaultSearchRadius, f.locations.LastRadius)

	stored := f.reload(t, d.ID)
	assert.Equal(t, d.Code, stored.Code)
	assert.True(t, d.Price.Equal(stored.Price))

	offers := f.publisher.named(events.NewDelivery)
	require.Len(t, offers, 1)
	assert.Equal(t, d.ID, offers[0].EntityID)
	assert.ElementsMatch(t, d.Candidates, offers[0].Parties.Candidates)

	summary, ok := offers[0].Payload.(DeliverySummary)
	require.True(t, ok)
	assert.Equal(t, d.ID, summary.ID)
}

func TestCreate_ReadsSearchRadiusOnEveryCall(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.created(t)
	require.NoError(t, f.settings.Update(ctx, domain.Settings{TTL: DefaultTTL, SearchRadius: 1200}))
	f.created(t)

	assert.Equal(t, 1200.0, f.locations.LastRadius)
}

func TestCreate_FinderFailureStillCreates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.locations.NearbyErr = errors.New("redis down")

	d := f.created(t)

	assert.Empty(t, d.Candidates)
	assert.Len(t, f.publisher.named(events.NewDelivery), 1)
}

func TestCreate_ValidationFailures(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		caller domain.Caller
		mutate func(r *CreateDeliveryRequest)
		want   error
	}{
		{"driver cannot create", driver, func(r *CreateDeliveryRequest) {}, ErrForbiddenAccess},
		{"zero departure", client, func(r *CreateDeliveryRequest) { r.Departure.Point = domain.GeoPoint{} }, ErrInvalidLocation},
		{"out of range destination", client, func(r *CreateDeliveryRequest) { r.Destination.Point.Lat = 120 }, ErrInvalidLocation},
		{"unknown package type", client, func(r *CreateDeliveryRequest) { r.PackageType = "piano" }, ErrUnsupportedType},
		{"missing package type", client, func(r *CreateDeliveryRequest) { r.PackageType = "" }, ErrInvalidInput},
		{"missing recipient phone", client, func(r *CreateDeliveryRequest) { r.Recipients.Main.Phone = "" }, ErrInvalidInput},
		{"unknown linked recipient", client, func(r *CreateDeliveryRequest) {
			r.Recipients.Others = []domain.Recipient{{Name: "X", Phone: "1", UserID: "ghost"}}
		}, ErrInvalidInput},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			req := validCreateRequest()
			tc.mutate(&req)

			_, err := f.deliv.Create(context.Background(), tc.caller, req)
			require.ErrorIs(t, err, tc.want)
			assert.Empty(t, f.publisher.named(events.NewDelivery))
		})
	}
}

func TestCreate_CodesAreDistinct(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		d := f.created(t)
		assert.False(t, seen[d.Code], "duplicate code %s", d.Code)
		seen[d.Code] = true
	}
}

// ──────────────────────────────────────────────
// 2. ACCEPTANCE
// ──────────────────────────────────────────────

func TestAccept_AssignsDriverAndDebitsWallet(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	d := f.created(t)

	got, err := f.deliv.Accept(ctx, driver, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryStatusPendingReception, got.Status)
	assert.Equal(t, driver.UserID, got.DriverID)
	assert.True(t, f.locations.isBusy(driver.UserID))

	accepted := f.publisher.named(events.DeliveryAccepted)
	require.Len(t, accepted, 1)
	assert.Equal(t, client.UserID, accepted[0].Parties.ClientID)
	payload := accepted[0].Payload.(AcceptedPayload)
	assert.Equal(t, "Bello", payload.Driver.Name)

	withdrawn := f.publisher.named(events.PointWithdrawn)
	require.Len(t, withdrawn, 1)
	points := withdrawn[0].Payload.(PointsPayload)
	assert.Equal(t, int64(10), points.Points)
	assert.Equal(t, int64(90), points.Balance)
}

func TestAccept_InsufficientPointsDoesNotUndoAcceptance(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.Users().DebitPoints(ctx, driver.UserID, 95)
	require.NoError(t, err)
	d := f.created(t)

	_, err = f.deliv.Accept(ctx, driver, d.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.DeliveryStatusPendingReception, f.reload(t, d.ID).Status)
	assert.Empty(t, f.publisher.named(events.PointWithdrawn))
}

func TestAccept_ConcurrentDriversExactlyOneWins(t *testing.T) {
	t.Parallel()

	for round := 0; round < 20; round++ {
		f := newFixture(t)
		d := f.created(t)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, c := range []domain.Caller{driver, driver2} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = f.deliv.Accept(context.Background(), c, d.ID)
			}()
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
				continue
			}
			assert.ErrorIs(t, err, ErrAlreadyAssigned)
		}
		assert.Equal(t, 1, wins)

		stored := f.reload(t, d.ID)
		assert.Contains(t, []string{driver.UserID, driver2.UserID}, stored.DriverID)
		assert.Len(t, f.publisher.named(events.DeliveryAccepted), 1)
	}
}

func TestAccept_AfterTTLReturnsDeliveryTimeout(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.settings.Update(ctx, domain.Settings{TTL: 180 * time.Second, SearchRadius: DefaultSearchRadius}))
	d := f.created(t)

	f.clock.Advance(200 * time.Second)
	_, err := f.deliv.Accept(ctx, driver, d.ID)
	require.ErrorIs(t, err, ErrDeliveryTimeout)

	stored := f.reload(t, d.ID)
	assert.Equal(t, domain.DeliveryStatusInitial, stored.Status)
	assert.Empty(t, stored.DriverID)
}

func TestAccept_WithinTTLSucceeds(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	d := f.created(t)

	f.clock.Advance(DefaultTTL - time.Second)
	_, err := f.deliv.Accept(context.Background(), driver, d.ID)
	require.NoError(t, err)
}

func TestAccept_GuardFailures(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	d := f.created(t)
	_, err := f.deliv.Accept(ctx, client, d.ID)
	assert.ErrorIs(t, err, ErrForbiddenAccess)

	_, err = f.deliv.Accept(ctx, driver, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.deliv.Cancel(ctx, client, d.ID)
	require.NoError(t, err)
	_, err = f.deliv.Accept(ctx, driver, d.ID)
	assert.ErrorIs(t, err, ErrAlreadyCancelled)
}

func TestAccept_DriverWithActiveDeliveryIsRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	first := f.created(t)
	_, err := f.deliv.Accept(ctx, driver, first.ID)
	require.NoError(t, err)

	second := f.created(t)
	_, err = f.deliv.Accept(ctx, driver, second.ID)
	assert.ErrorIs(t, err, ErrCannotPerformAction)
	assert.Equal(t, domain.DeliveryStatusInitial, f.reload(t, second.ID).Status)
}

// ──────────────────────────────────────────────
// 3. HANDOFF
// ──────────────────────────────────────────────

func TestConfirmDeposit_AdvancesOneStepAtATime(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	d := f.created(t)
	_, err := f.deliv.Accept(ctx, driver, d.ID)
	require.NoError(t, err)

	got, err := f.deliv.ConfirmDeposit(ctx, client, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryStatusToBeConfirmed, got.Status)
	assert.Len(t, f.publisher.named(events.DriverOnSite), 1)

	got, err = f.deliv.ConfirmDeposit(ctx, client, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryStatusStarted, got.Status)
	assert.False(t, f.reload(t, d.ID).StartedAt.IsZero())
	assert.Len(t, f.publisher.named(events.DeliveryStarted), 1)

	_, err = f.deliv.ConfirmDeposit(ctx, client, d.ID)
	assert.ErrorIs(t, err, ErrCannotPerformAction)
}

func TestConfirmDeposit_RequiresOwnerAndAssignment(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	d := f.created(t)

	_, err := f.deliv.ConfirmDeposit(ctx, client, d.ID)
	assert.ErrorIs(t, err, ErrCannotPerformAction)

	_, err = f.deliv.Accept(ctx, driver, d.ID)
	require.NoError(t, err)
	_, err = f.deliv.ConfirmDeposit(ctx, stranger, d.ID)
	assert.ErrorIs(t, err, ErrForbiddenAccess)
}

func TestSignalArrival_OnlyAssignedDriver(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	d := f.created(t)
	_, err := f.deliv.Accept(ctx, driver, d.ID)
	require.NoError(t, err)

	_, err = f.deliv.SignalArrival(ctx, driver2, d.ID)
	assert.ErrorIs(t, err, ErrForbiddenAccess)

	got, err := f.deliv.SignalArrival(ctx, driver, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryStatusToBeConfirmed, got.Status)

	onSite := f.publisher.named(events.DriverOnSite)
	require.Len(t, onSite, 1)
	assert.Equal(t, client.UserID, onSite[0].Parties.ClientID)
	assert.Equal(t, driver.UserID, onSite[0].Parties.DriverID)

	_, err = f.deliv.SignalArrival(ctx, driver, d.ID)
	assert.ErrorIs(t, err, ErrCannotPerformAction)
}

// ──────────────────────────────────────────────
// 4. TERMINATION
// ──────────────────────────────────────────────

func TestTerminate_CodeMustMatchExactly(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	d := f.started(t)
	f.publisher.reset()

	for _, wrong := range []string{"", d.Code[:len(d.Code)-1], d.Code + "X", " " + d.Code} {
		_, err := f.deliv.Terminate(ctx, driver, d.ID, wrong)
		require.ErrorIs(t, err, ErrInvalidCode, "code %q", wrong)
		assert.Equal(t, domain.DeliveryStatusStarted, f.reload(t, d.ID).Status)
	}

	got, err := f.deliv.Terminate(ctx, driver, d.ID, d.Code)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryStatusTerminated, got.Status)
	assert.False(t, f.reload(t, d.ID).EndedAt.IsZero())
	assert.Len(t, f.publisher.named(events.DeliveryEnd), 1)
	assert.False(t, f.locations.isBusy(driver.UserID))
}

func TestTerminate_CaseSensitiveCode(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	d := f.seedStarted(t, "7K2QZ")

	_, err := f.deliv.Terminate(ctx, driver, d.ID, "7k2qz")
	require.ErrorIs(t, err, ErrInvalidCode)
	assert.Equal(t, domain.DeliveryStatusStarted, f.reload(t, d.ID).Status)
	assert.Empty(t, f.publisher.named(events.DeliveryEnd))

	_, err = f.deliv.Terminate(ctx, driver, d.ID, "7K2QZ")
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryStatusTerminated, f.reload(t, d.ID).Status)
	assert.Len(t, f.publisher.named(events.DeliveryEnd), 1)
}

func TestTerminate_GuardFailures(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	d := f.created(t)
	_, err := f.deliv.Accept(ctx, driver, d.ID)
	require.NoError(t, err)

	_, err = f.deliv.Terminate(ctx, driver, d.ID, d.Code)
	assert.ErrorIs(t, err, ErrCannotPerformAction, "not started")

	_, err = f.deliv.Terminate(ctx, driver2, d.ID, d.Code)
	assert.ErrorIs(t, err, ErrForbiddenAccess)
}

// ──────────────────────────────────────────────
// 5. CANCELLATION
// ──────────────────────────────────────────────

func TestCancel_NotifiesDriverAndCandidates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	d := f.created(t)
	_, err := f.deliv.Accept(ctx, driver, d.ID)
	require.NoError(t, err)

	got, err := f.deliv.Cancel(ctx, client, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryStatusCancelled, got.Status)
	assert.False(t, f.locations.isBusy(driver.UserID))

	cancelled := f.publisher.named(events.DeliveryCancelled)
	require.Len(t, cancelled, 1)
	assert.Equal(t, driver.UserID, cancelled[0].Parties.DriverID)
	assert.ElementsMatch(t, d.Candidates, cancelled[0].Parties.Candidates)

	_, err = f.deliv.Cancel(ctx, client, d.ID)
	assert.ErrorIs(t, err, ErrAlreadyCancelled)
}

func TestCancel_RejectedOnceStartedOrByOthers(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	d := f.started(t)
	_, err := f.deliv.Cancel(ctx, client, d.ID)
	assert.ErrorIs(t, err, ErrCannotPerformAction)

	other := f.created(t)
	_, err = f.deliv.Cancel(ctx, stranger, other.ID)
	assert.ErrorIs(t, err, ErrForbiddenAccess)
}

// ──────────────────────────────────────────────
// 6. READS AND EXPIRY
// ──────────────────────────────────────────────

func TestGet_Visibility(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	d := f.created(t)

	for _, c := range []domain.Caller{client, driver, operator} {
		_, err := f.deliv.Get(ctx, c, d.ID)
		assert.NoError(t, err, c.UserID)
	}
	_, err := f.deliv.Get(ctx, stranger, d.ID)
	assert.ErrorIs(t, err, ErrForbiddenAccess)

	_, err = f.deliv.Accept(ctx, driver, d.ID)
	require.NoError(t, err)
	_, err = f.deliv.Get(ctx, driver2, d.ID)
	assert.ErrorIs(t, err, ErrForbiddenAccess, "candidates lose access once assigned")
}

func TestExpireStale_CancelsOnlyLapsedOffers(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	old := f.created(t)
	f.clock.Advance(DefaultTTL + time.Minute)
	fresh := f.created(t)

	n, err := f.deliv.ExpireStale(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.DeliveryStatusCancelled, f.reload(t, old.ID).Status)
	assert.Equal(t, domain.DeliveryStatusInitial, f.reload(t, fresh.ID).Status)

	expired := f.publisher.named(events.DeliveryExpired)
	require.Len(t, expired, 1)
	assert.Equal(t, old.ID, expired[0].EntityID)
}
