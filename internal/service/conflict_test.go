package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delivery/internal/domain"
	"delivery/internal/events"
)

var here = &domain.GeoPoint{Lat: 4.0520, Lng: 9.7600}

func (f *fixture) reported(t *testing.T) (*domain.Delivery, *domain.Conflict) {
	t.Helper()
	d := f.started(t)
	c, err := f.conflicts.Report(context.Background(), client, ReportRequest{DeliveryID: d.ID, Type: "damaged", Location: here})
	require.NoError(t, err)
	return f.reload(t, d.ID), c
}

// ──────────────────────────────────────────────
// 1. REPORT
// ──────────────────────────────────────────────

func TestReport_OpensConflictAndMovesDeliveryInConflict(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	d, c := f.reported(t)

	assert.Equal(t, domain.ConflictStatusOpened, c.Status)
	assert.Equal(t, client.UserID, c.ReporterID)
	assert.Equal(t, *here, c.LastLocation)
	assert.Equal(t, domain.DeliveryStatusInConflict, d.Status)
	assert.Equal(t, c.ID, d.ConflictID)

	opened := f.publisher.named(events.NewConflict)
	require.Len(t, opened, 1)
	assert.Equal(t, c.ID, opened[0].EntityID)
	assert.Equal(t, client.UserID, opened[0].Parties.ClientID)
}

func TestReport_SecondReportIsAlreadyReported(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	d, _ := f.reported(t)

	_, err := f.conflicts.Report(context.Background(), driver, ReportRequest{DeliveryID: d.ID, Type: "accident", Location: here})
	require.ErrorIs(t, err, ErrAlreadyReported)
	assert.Len(t, f.publisher.named(events.NewConflict), 1)
}

func TestReport_ConcurrentReportsOpenOneConflict(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	d := f.started(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, c := range []domain.Caller{client, driver} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.conflicts.Report(context.Background(), c, ReportRequest{DeliveryID: d.ID, Type: "damaged", Location: here})
		}()
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			failures++
			assert.ErrorIs(t, err, ErrAlreadyReported)
		}
	}
	assert.Equal(t, 1, failures)
	assert.Len(t, f.publisher.named(events.NewConflict), 1)
}

func TestReport_GuardFailures(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	d := f.started(t)

	_, err := f.conflicts.Report(ctx, stranger, ReportRequest{DeliveryID: d.ID, Type: "damaged", Location: here})
	assert.ErrorIs(t, err, ErrForbiddenAccess)

	_, err = f.conflicts.Report(ctx, client, ReportRequest{DeliveryID: d.ID, Type: "weather", Location: here})
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = f.conflicts.Report(ctx, client, ReportRequest{DeliveryID: d.ID, Type: "damaged"})
	assert.ErrorIs(t, err, ErrInvalidLocation, "participants must send a location")

	_, err = f.conflicts.Report(ctx, client, ReportRequest{DeliveryID: d.ID, Type: "damaged", Location: &domain.GeoPoint{Lat: 95}})
	assert.ErrorIs(t, err, ErrInvalidLocation)

	initial := f.created(t)
	_, err = f.conflicts.Report(ctx, client, ReportRequest{DeliveryID: initial.ID, Type: "damaged", Location: here})
	assert.ErrorIs(t, err, ErrCannotPerformAction, "not ongoing")

	_, err = f.conflicts.Report(ctx, client, ReportRequest{DeliveryID: "missing", Type: "damaged", Location: here})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReport_OperatorFallsBackToDriverPosition(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	d := f.started(t)

	_, err := f.conflicts.Report(ctx, operator, ReportRequest{DeliveryID: d.ID, Type: "damaged"})
	require.ErrorIs(t, err, ErrInvalidLocation, "no known position yet")

	last := domain.GeoPoint{Lat: 4.07, Lng: 9.71}
	require.NoError(t, f.drivers.UpdateLocation(ctx, driver, last))

	c, err := f.conflicts.Report(ctx, operator, ReportRequest{DeliveryID: d.ID, Type: "damaged"})
	require.NoError(t, err)
	assert.Equal(t, last, c.LastLocation)
}

// ──────────────────────────────────────────────
// 2. ASSIGN
// ──────────────────────────────────────────────

func TestAssign_SetsBothSidesAndResumesDelivery(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	d, c := f.reported(t)

	got, err := f.conflicts.Assign(context.Background(), operator, c.ID, backup.UserID)
	require.NoError(t, err)
	assert.Equal(t, operator.UserID, got.AssignerID)
	assert.Equal(t, backup.UserID, got.AssigneeID)
	assert.True(t, f.locations.isBusy(backup.UserID))

	stored := f.reload(t, d.ID)
	assert.Equal(t, domain.DeliveryStatusStarted, stored.Status)
	assert.Equal(t, c.ID, stored.ConflictID)

	assigned := f.publisher.named(events.NewAssignment)
	require.Len(t, assigned, 1)
	assert.Equal(t, backup.UserID, assigned[0].Parties.AssigneeID)
}

func TestAssign_SecondAssignmentCannotPerformAction(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	_, c := f.reported(t)

	_, err := f.conflicts.Assign(ctx, operator, c.ID, backup.UserID)
	require.NoError(t, err)

	_, err = f.conflicts.Assign(ctx, operator, c.ID, driver2.UserID)
	require.ErrorIs(t, err, ErrCannotPerformAction)
	assert.ErrorIs(t, err, ErrConflictAssigned)

	stored, err := f.store.Conflicts().GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, backup.UserID, stored.AssigneeID)
}

func TestAssign_ConcurrentOperatorsOneWins(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_, c := f.reported(t)
	other := domain.Caller{UserID: "operator-2", Role: domain.RoleOperator}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, op := range []domain.Caller{operator, other} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.conflicts.Assign(context.Background(), op, c.ID, backup.UserID)
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrCannotPerformAction)
	}
	assert.Equal(t, 1, wins)
}

func TestAssign_GuardFailures(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	_, c := f.reported(t)

	_, err := f.conflicts.Assign(ctx, client, c.ID, backup.UserID)
	assert.ErrorIs(t, err, ErrForbiddenAccess)

	_, err = f.conflicts.Assign(ctx, operator, "missing", backup.UserID)
	assert.ErrorIs(t, err, ErrConflictNotFound)

	_, err = f.conflicts.Assign(ctx, operator, c.ID, "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.conflicts.Assign(ctx, operator, c.ID, client.UserID)
	assert.ErrorIs(t, err, ErrInvalidInput, "backup must be a driver")

	_, err = f.conflicts.Assign(ctx, operator, c.ID, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAssign_BackupDriverCarriesDelivery(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	d, c := f.reported(t)

	_, err := f.conflicts.Assign(ctx, operator, c.ID, backup.UserID)
	require.NoError(t, err)
	assert.False(t, f.locations.isBusy(driver.UserID), "original driver is released")

	_, err = f.deliv.Get(ctx, backup, d.ID)
	require.NoError(t, err, "assignee can read the delivery")

	f.publisher.reset()
	p := domain.GeoPoint{Lat: 4.06, Lng: 9.75}
	require.NoError(t, f.drivers.UpdateLocation(ctx, backup, p))
	require.NoError(t, f.drivers.UpdateLocation(ctx, driver, p))

	positions := f.publisher.named(events.NewPosition)
	require.Len(t, positions, 1)
	assert.Equal(t, d.ID, positions[0].EntityID)
	assert.Equal(t, backup.UserID, positions[0].Parties.DriverID)
	assert.Equal(t, client.UserID, positions[0].Parties.ClientID)

	other := f.created(t)
	_, err = f.deliv.Accept(ctx, backup, other.ID)
	require.ErrorIs(t, err, ErrCannotPerformAction, "backup already carries a delivery")

	_, err = f.deliv.Accept(ctx, driver, other.ID)
	require.NoError(t, err)
}

// ──────────────────────────────────────────────
// 3. RESOLVE AND CANCEL
// ──────────────────────────────────────────────

func TestResolve_AssigneeTerminatesWithCode(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	d, c := f.reported(t)
	_, err := f.conflicts.Assign(ctx, operator, c.ID, backup.UserID)
	require.NoError(t, err)

	// The original driver is locked out while the conflict is open.
	_, err = f.deliv.Terminate(ctx, driver, d.ID, d.Code)
	require.ErrorIs(t, err, ErrCannotPerformAction)

	_, err = f.conflicts.Resolve(ctx, driver2, c.ID, d.Code)
	require.ErrorIs(t, err, ErrForbiddenAccess)

	_, err = f.conflicts.Resolve(ctx, backup, c.ID, d.Code+"0")
	require.ErrorIs(t, err, ErrInvalidCode)

	got, err := f.conflicts.Resolve(ctx, backup, c.ID, d.Code)
	require.NoError(t, err)
	assert.Equal(t, domain.ConflictStatusClosed, got.Status)
	assert.Equal(t, domain.DeliveryStatusTerminated, f.reload(t, d.ID).Status)
	assert.False(t, f.locations.isBusy(backup.UserID))

	solved := f.publisher.named(events.ConflictSolved)
	require.Len(t, solved, 1)
	assert.Equal(t, operator.UserID, solved[0].Parties.AssignerID)
	assert.Len(t, f.publisher.named(events.DeliveryEnd), 1)

	_, err = f.conflicts.Resolve(ctx, backup, c.ID, d.Code)
	assert.ErrorIs(t, err, ErrCannotPerformAction)
}

func TestResolve_CaseSensitiveCode(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	d := f.seedStarted(t, "7K2QZ")

	c, err := f.conflicts.Report(ctx, client, ReportRequest{DeliveryID: d.ID, Type: "damaged", Location: here})
	require.NoError(t, err)
	_, err = f.conflicts.Assign(ctx, operator, c.ID, backup.UserID)
	require.NoError(t, err)

	for _, code := range []string{"7k2qz", "7K2Q", "7K2QZ "} {
		_, err = f.conflicts.Resolve(ctx, backup, c.ID, code)
		require.ErrorIs(t, err, ErrInvalidCode, code)
	}
	assert.Equal(t, domain.DeliveryStatusStarted, f.reload(t, d.ID).Status)
	assert.Empty(t, f.publisher.named(events.ConflictSolved))

	got, err := f.conflicts.Resolve(ctx, backup, c.ID, "7K2QZ")
	require.NoError(t, err)
	assert.Equal(t, domain.ConflictStatusClosed, got.Status)
	assert.Equal(t, domain.DeliveryStatusTerminated, f.reload(t, d.ID).Status)
}

func TestResolve_UnassignedConflictIsForbidden(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	d, c := f.reported(t)

	_, err := f.conflicts.Resolve(context.Background(), backup, c.ID, d.Code)
	assert.ErrorIs(t, err, ErrForbiddenAccess)
}

func TestCancelConflict_ResumesDeliveryAndUnlinks(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	d, c := f.reported(t)

	got, err := f.conflicts.Cancel(ctx, operator, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConflictStatusCancelled, got.Status)

	stored := f.reload(t, d.ID)
	assert.Equal(t, domain.DeliveryStatusStarted, stored.Status)
	assert.Empty(t, stored.ConflictID)

	cancelled := f.publisher.named(events.ConflictCancelled)
	require.Len(t, cancelled, 1)
	assert.Equal(t, driver.UserID, cancelled[0].Parties.DriverID)

	// The driver can finish normally again.
	_, err = f.deliv.Terminate(ctx, driver, d.ID, d.Code)
	require.NoError(t, err)
}

func TestCancelConflict_AssignedConflictCannotBeCancelled(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	_, c := f.reported(t)
	_, err := f.conflicts.Assign(ctx, operator, c.ID, backup.UserID)
	require.NoError(t, err)

	_, err = f.conflicts.Cancel(ctx, operator, c.ID)
	assert.ErrorIs(t, err, ErrCannotPerformAction)

	_, err = f.conflicts.Cancel(ctx, client, c.ID)
	assert.ErrorIs(t, err, ErrForbiddenAccess)
}

// ──────────────────────────────────────────────
// 4. READS
// ──────────────────────────────────────────────

func TestConflictGet_Visibility(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	_, c := f.reported(t)

	_, err := f.conflicts.Get(ctx, client, c.ID)
	assert.NoError(t, err, "reporter")
	_, err = f.conflicts.Get(ctx, operator, c.ID)
	assert.NoError(t, err)
	_, err = f.conflicts.Get(ctx, backup, c.ID)
	assert.ErrorIs(t, err, ErrForbiddenAccess)

	_, err = f.conflicts.Assign(ctx, operator, c.ID, backup.UserID)
	require.NoError(t, err)
	_, err = f.conflicts.Get(ctx, backup, c.ID)
	assert.NoError(t, err, "assignee")
}

func TestListUnassigned_PaginatesOldestFirst(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	var ids []string
	for _, code := range []string{"AAAAA", "BBBBB", "CCCCC"} {
		d := f.seedStarted(t, code)
		c, err := f.conflicts.Report(ctx, client, ReportRequest{DeliveryID: d.ID, Type: "unreachable", Location: here})
		require.NoError(t, err)
		ids = append(ids, c.ID)
		f.clock.Advance(time.Second)
	}

	page, err := f.conflicts.ListUnassigned(ctx, operator, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, ids[0], page.Items[0].ID)

	page, err = f.conflicts.ListUnassigned(ctx, operator, 2, 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, ids[2], page.Items[0].ID)

	page, err = f.conflicts.ListUnassigned(ctx, operator, 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, MaxPageSize, page.Size)

	_, err = f.conflicts.ListUnassigned(ctx, driver, 1, 10)
	assert.ErrorIs(t, err, ErrForbiddenAccess)
}
