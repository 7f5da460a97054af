package mock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hangwatch/backend/internal/poller"
	"github.com/hangwatch/backend/internal/session"
)

func newTestGenerator(seed uint64, failureRate float64) *Generator {
	g := NewGenerator(seed, failureRate)
	g.now = func() time.Time { return time.Unix(1000, 0) }
	return g
}

func TestGeneratorIsDeterministic(t *testing.T) {
	a := newTestGenerator(42, 0.2)
	b := newTestGenerator(42, 0.2)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		ra, errA := a.Search(ctx, "", poller.SearchOptions{})
		rb, errB := b.Search(ctx, "", poller.SearchOptions{})
		assert.Equal(t, errA, errB, "step %d", i)
		assert.Equal(t, ra, rb, "step %d", i)
	}
}

func TestGeneratorEndsHangoutsOnce(t *testing.T) {
	g := newTestGenerator(7, 0)
	ctx := context.Background()

	seenActive := map[string]bool{}
	ended := map[string]bool{}
	for i := 0; i < 50; i++ {
		results, err := g.Search(ctx, "", poller.SearchOptions{})
		require.NoError(t, err)
		for _, r := range results {
			require.NotEmpty(t, r.ID)
			if r.Active {
				assert.False(t, ended[r.ID], "%s active after ending", r.ID)
				seenActive[r.ID] = true
				continue
			}
			assert.False(t, ended[r.ID], "%s ended twice", r.ID)
			ended[r.ID] = true
		}
	}
	assert.NotEmpty(t, ended)
	for id := range ended {
		assert.True(t, seenActive[id], "%s ended without being reported live", id)
	}
}

func TestGeneratorResultsHaveOwners(t *testing.T) {
	g := newTestGenerator(3, 0)
	results, err := g.Search(context.Background(), "", poller.SearchOptions{})
	require.NoError(t, err)
	for _, r := range results {
		if !r.Active {
			continue
		}
		require.NotEmpty(t, r.Participants)
		assert.Equal(t, session.Online, r.Participants[0].Status)
		assert.Equal(t, time.Unix(1000, 0), r.SeenAt)
	}
}

func TestGeneratorFailureRate(t *testing.T) {
	ctx := context.Background()

	always := newTestGenerator(1, 1)
	_, err := always.Search(ctx, "", poller.SearchOptions{})
	require.ErrorIs(t, err, ErrSimulatedFailure)

	never := newTestGenerator(1, 0)
	for i := 0; i < 20; i++ {
		_, err := never.Search(ctx, "", poller.SearchOptions{})
		require.NoError(t, err)
	}
}

func TestGeneratorRespectsLimit(t *testing.T) {
	g := newTestGenerator(11, 0)
	for i := 0; i < 10; i++ {
		results, err := g.Search(context.Background(), "", poller.SearchOptions{Limit: 2})
		require.NoError(t, err)
		assert.LessOrEqual(t, len(results), 2)
	}
}

func TestGeneratorFeedsReconciler(t *testing.T) {
	g := newTestGenerator(99, 0)
	r := session.NewReconciler()

	for i := 0; i < 100; i++ {
		if i%2 == 0 {
			r.Reset()
		}
		results, err := g.Search(context.Background(), "", poller.SearchOptions{})
		require.NoError(t, err)
		r.Reconcile(results)
		require.NoError(t, r.Validate(), "step %d", i)
	}
}

func TestGeneratorReinitAndContext(t *testing.T) {
	g := newTestGenerator(5, 0)
	require.NoError(t, g.Reinit(context.Background()))
	require.NoError(t, g.Reinit(context.Background()))
	assert.Equal(t, 2, g.Reinits())
	assert.Equal(t, "mock", g.Name())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Search(ctx, "", poller.SearchOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, g.Reinit(ctx), context.Canceled)
}
