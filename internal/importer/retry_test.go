package importer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openxui/panelsync/internal/models"
)

func TestPolicyRetriesWithLinearBackoff(t *testing.T) {
	var sleeps []time.Duration
	p := policyFrom(models.RetryOptions{Enabled: true, MaxAttempts: 3, BackoffSeconds: 2})
	p.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("deadlock found")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sleeps)
}

func TestPolicyExhaustsBudget(t *testing.T) {
	p := policyFrom(models.RetryOptions{Enabled: true, MaxAttempts: 2, BackoffSeconds: 1})
	p.sleep = func(time.Duration) {}

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return errors.New("still broken")
	})

	require.EqualError(t, err, "still broken")
	assert.Equal(t, 2, calls)
}

func TestPolicyDisabledRunsOnce(t *testing.T) {
	p := policyFrom(models.RetryOptions{Enabled: false, MaxAttempts: 5, BackoffSeconds: 1})

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return errors.New("nope")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestPolicyStopsOnContextCancel(t *testing.T) {
	p := policyFrom(models.RetryOptions{Enabled: true, MaxAttempts: 5, BackoffSeconds: 1})
	p.sleep = func(time.Duration) {}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := p.Do(ctx, func() error {
		calls++
		cancel()
		return ctx.Err()
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestThrottleSleepsEveryNthCall(t *testing.T) {
	th := newThrottle(2, 50)
	slept := 0
	th.sleep = func(d time.Duration) {
		assert.Equal(t, 50*time.Millisecond, d)
		slept++
	}

	for i := 0; i < 5; i++ {
		th.tick()
	}
	assert.Equal(t, 2, slept)
}

func TestThrottleDisabledWhenZero(t *testing.T) {
	th := newThrottle(2, 0)
	th.sleep = func(time.Duration) { t.Fatal("should not sleep") }
	for i := 0; i < 4; i++ {
		th.tick()
	}
}

func TestInsertRetriesBeforeCounting(t *testing.T) {
	src := movieFixture()
	cat := newFakeCatalog()
	tracker := &fakeTracker{}

	opts := models.DefaultOptions()
	opts.CategoryMapping = map[string]int64{"1": 7, "2": 8}
	im := newMovieImporter(src, cat, tracker, opts)

	// Fail the first attempt of every insert; the retry budget should
	// absorb it and the run should end with zero errors.
	remaining := map[string]int{}
	cat.insertHook = func(title string) error {
		if remaining[title] == 0 {
			remaining[title] = 1
			return errors.New("lock wait timeout exceeded")
		}
		return nil
	}

	require.NoError(t, im.RunMovies(context.Background(), 1))
	require.NotNil(t, tracker.finished)
	assert.Equal(t, 0, tracker.finished.Errors)
	assert.Equal(t, 3, tracker.finished.Inserted)
}
