package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore(t *testing.T) {
	s := NewStore()
	require.NotNil(t, s)
	assert.Empty(t, s.GetAll())
	assert.Equal(t, 0, s.Count())
	assert.Equal(t, Signal{}, s.Signal())
}

func TestGetMissing(t *testing.T) {
	s := NewStore()
	rec, ok := s.Get("nonexistent")
	assert.False(t, ok)
	assert.Nil(t, rec)
}

func TestPublishAndGet(t *testing.T) {
	s := NewStore()
	sig := Signal{Count: 2, IsNewActivity: true, At: time.Unix(10, 0)}
	s.Publish([]*Record{{ID: "a", Text: "alpha"}, {ID: "b"}}, sig)

	rec, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, "alpha", rec.Text)
	assert.Equal(t, 2, s.Count())
	assert.Equal(t, sig, s.Signal())

	all := s.GetAll()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "b", all[1].ID)
}

func TestPublishReplacesView(t *testing.T) {
	s := NewStore()
	s.Publish([]*Record{{ID: "a"}, {ID: "b"}}, Signal{Count: 2})
	s.Publish([]*Record{{ID: "c"}}, Signal{Count: 1})

	_, ok := s.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, s.Count())
}

func TestPublishStoresCopy(t *testing.T) {
	s := NewStore()
	rec := &Record{ID: "a", Text: "original"}
	s.Publish([]*Record{rec}, Signal{})

	rec.Text = "mutated"
	got, _ := s.Get("a")
	assert.Equal(t, "original", got.Text)

	got.Text = "mutated"
	again, _ := s.Get("a")
	assert.Equal(t, "original", again.Text)
}

func TestPublishAndNotifyRunsUnderLock(t *testing.T) {
	s := NewStore()
	called := false
	s.PublishAndNotify([]*Record{{ID: "a"}}, Signal{Count: 1}, func() {
		called = true
	})
	assert.True(t, called)
	assert.Equal(t, 1, s.Count())
}

func TestConcurrentReadersSeeWholeViews(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 100; i++ {
			recs := make([]*Record, i)
			for j := range recs {
				recs[j] = &Record{ID: fmt.Sprintf("r%d", j)}
			}
			s.Publish(recs, Signal{Count: i})
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = s.GetAll()
				_ = s.Count()
				_ = s.Signal()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, s.Count())
	assert.Equal(t, 100, s.Signal().Count)
}
