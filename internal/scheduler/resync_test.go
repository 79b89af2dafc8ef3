package scheduler

import (
	"context"
	"testing"

	"pharmsync/internal/events"
	"pharmsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Submit(ctx context.Context, task *models.ImportTask) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

func TestResyncAll(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.bindings.bindings = []*models.Binding{
		{BackendID: 1, Entity: models.EntityPatient, RemoteID: "p1"},
		{BackendID: 2, Entity: models.EntityPatient, RemoteID: "p2"},
		{BackendID: 1, Entity: models.EntityItem, RemoteID: "i1"},
	}

	n, err := h.scheduler.ResyncAll(ctx, models.EntityPatient, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"p1", "p2"}, h.runner.remoteIDs())
	for _, task := range h.runner.tasks {
		assert.True(t, task.Force)
		assert.Equal(t, models.ForcePriority, task.Priority)
	}
	assert.Equal(t, int64(2), h.runner.tasks[1].BackendID)
	assert.Empty(t, h.remote.callsFor(models.EntityPatient), "resync never enumerates the remote")
	assert.Equal(t, []string{events.EventResyncRequested}, h.events.types())
}

func TestResyncAllExplicitPriorityAndEmpty(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.bindings.bindings = []*models.Binding{{BackendID: 1, Entity: models.EntitySale, RemoteID: "s1"}}

	n, err := h.scheduler.ResyncAll(ctx, models.EntitySale, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, h.runner.tasks[0].Priority)

	n, err = h.scheduler.ResyncAll(ctx, models.EntityPhysician, 0)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = h.scheduler.ResyncAll(ctx, "widgets", 0)
	assert.ErrorIs(t, err, ErrUnknownEntity)
}

func TestForceSyncSubmitsOneForcedTask(t *testing.T) {
	h := newHarness(t, nil)
	runner := new(MockRunner)
	h.scheduler.runner = runner

	runner.On("Submit", mock.Anything, mock.MatchedBy(func(task *models.ImportTask) bool {
		return task.Force &&
			task.Priority == models.ForcePriority &&
			task.RemoteID == "rx-77" &&
			task.BackendID == 1 &&
			task.Entity == models.EntityPrescription
	})).Return(nil).Once()

	err := h.scheduler.ForceSync(context.Background(), models.EntityPrescription, "rx-77", 1)
	require.NoError(t, err)
	runner.AssertExpectations(t)
	runner.AssertNumberOfCalls(t, "Submit", 1)
}

func TestForceSyncErrors(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	runner := new(MockRunner)
	runner.On("Submit", mock.Anything, mock.Anything).Return(assert.AnError)
	h.scheduler.runner = runner

	err := h.scheduler.ForceSync(ctx, models.EntityItem, "1", 1)
	assert.ErrorIs(t, err, assert.AnError)

	assert.Error(t, h.scheduler.ForceSync(ctx, models.EntityItem, "", 1))
	assert.Error(t, h.scheduler.ForceSync(ctx, models.EntityItem, "1", 42))
	assert.ErrorIs(t, h.scheduler.ForceSync(ctx, "widgets", "1", 1), ErrUnknownEntity)
}

func TestImportFDB(t *testing.T) {
	h := newHarness(t, nil)
	h.remote.add(models.EntityFDBRoute, "PO", map[string]any{})
	h.remote.add(models.EntityFDBForm, "TAB", map[string]any{})
	h.remote.add(models.EntityFDBForm, "CAP", map[string]any{})
	h.remote.add(models.EntityFDBUnit, "MG", map[string]any{})

	n, err := h.scheduler.ImportFDB(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []string{"PO", "TAB", "CAP", "MG"}, h.runner.remoteIDs())
	for _, c := range h.remote.callsFor(models.EntityFDBForm) {
		assert.True(t, c.filter.IsEmpty())
	}
}

func TestImportFDBByControlCode(t *testing.T) {
	h := newHarness(t, nil)
	h.backend.FDBNDCControlCode = "2"
	h.remote.add(models.EntityFDBNDC, "00001", map[string]any{"dea": 2})
	h.remote.add(models.EntityFDBNDC, "00002", map[string]any{"dea": 4})

	n, err := h.scheduler.ImportFDBByControlCode(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"00001"}, h.runner.remoteIDs())

	calls := h.remote.callsFor(models.EntityFDBNDC)
	require.Len(t, calls, 1)
	assert.Equal(t, models.EqualsFilter(models.FieldDEA, 2), calls[0].filter)
}

func TestImportFDBByControlCodeRequiresCode(t *testing.T) {
	h := newHarness(t, nil)
	h.backend.FDBNDCControlCode = ""

	_, err := h.scheduler.ImportFDBByControlCode(context.Background(), 1)
	require.ErrorIs(t, err, models.ErrInvalidBackend)
	assert.Empty(t, h.remote.callsFor(models.EntityFDBNDC))
}
