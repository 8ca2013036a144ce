package progress

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krxwatch/krxwatch/internal/domain"
)

func TestStartSingleFlight(t *testing.T) {
	reg := NewRegistry()

	tracker, err := reg.Start(JobCollectAll, 5, "starting")
	require.NoError(t, err)

	// A second start of the same kind must fail fast.
	_, err = reg.Start(JobCollectAll, 5, "starting")
	require.Error(t, err)
	var de *domain.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, domain.KindAlreadyRunning, de.Kind)

	// A different kind is independent.
	_, err = reg.Start(JobCatalogCollect, 10, "starting")
	assert.NoError(t, err)

	// After completion the slot is reusable.
	tracker.Finish(StatusCompleted, "done")
	_, err = reg.Start(JobCollectAll, 5, "again")
	assert.NoError(t, err)
}

func TestProgressUpdates(t *testing.T) {
	reg := NewRegistry()

	tracker, err := reg.Start(JobCollectAll, 4, "starting")
	require.NoError(t, err)

	tracker.Update(2, "ticker 2/4", "prices")

	snap := reg.Get(JobCollectAll)
	assert.Equal(t, StatusInProgress, snap.Status)
	assert.Equal(t, 2, snap.Current)
	assert.Equal(t, 4, snap.Total)
	assert.InDelta(t, 50.0, snap.Percent, 1e-9)
	assert.Equal(t, "prices", snap.Phase)
}

func TestCooperativeCancellation(t *testing.T) {
	reg := NewRegistry()

	tracker, err := reg.Start(JobScreeningCollect, 100, "starting")
	require.NoError(t, err)

	assert.False(t, tracker.CancelRequested())

	ok := reg.RequestCancel(JobScreeningCollect)
	require.True(t, ok)
	assert.True(t, tracker.CancelRequested())

	tracker.Finish(StatusCancelled, "cancelled by user")
	snap := reg.Get(JobScreeningCollect)
	assert.Equal(t, StatusCancelled, snap.Status)
	assert.NotNil(t, snap.FinishedAt)
}

func TestCancelWithoutRunningJob(t *testing.T) {
	reg := NewRegistry()
	assert.False(t, reg.RequestCancel(JobCollectAll))
}

func TestIdleSnapshot(t *testing.T) {
	reg := NewRegistry()
	snap := reg.Get(JobCatalogCollect)
	assert.Equal(t, StatusIdle, snap.Status)
	assert.Zero(t, snap.Percent)
}
