package config

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hangwatch/backend/internal/session"
)

func TestSettingsGetUnset(t *testing.T) {
	s := NewSettings()
	v, ok := Get(s, KeySearchQuery)
	assert.False(t, ok)
	assert.Equal(t, "", v)
}

func TestSettingsSetNotifiesOnChange(t *testing.T) {
	s := NewSettings()
	var got []time.Duration
	Subscribe(s, KeyPollInterval, func(d time.Duration) { got = append(got, d) })

	Set(s, KeyPollInterval, time.Second)
	Set(s, KeyPollInterval, time.Second)
	Set(s, KeyPollInterval, 2*time.Second)

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, got)
	v, ok := Get(s, KeyPollInterval)
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, v)
}

func TestSettingsKeysAreIndependent(t *testing.T) {
	s := NewSettings()
	calls := 0
	Subscribe(s, KeySearchQuery, func(string) { calls++ })

	Set(s, KeySearchLimit, 10)
	assert.Equal(t, 0, calls)
}

func TestSettingsUnsubscribe(t *testing.T) {
	s := NewSettings()
	var a, b int
	unsubA := Subscribe(s, KeySearchLimit, func(int) { a++ })
	Subscribe(s, KeySearchLimit, func(int) { b++ })

	Set(s, KeySearchLimit, 1)
	unsubA()
	unsubA()
	Set(s, KeySearchLimit, 2)

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
}

func TestSettingsStructValuesCompareDeeply(t *testing.T) {
	s := NewSettings()
	calls := 0
	Subscribe(s, KeyPrivacy, func(session.PrivacyFilter) { calls++ })

	Set(s, KeyPrivacy, session.PrivacyFilter{BlockedCircles: []string{"work"}})
	Set(s, KeyPrivacy, session.PrivacyFilter{BlockedCircles: []string{"work"}})
	Set(s, KeyPrivacy, session.PrivacyFilter{BlockedCircles: []string{"family"}})

	assert.Equal(t, 2, calls)
}

func TestSettingsApply(t *testing.T) {
	cfg := defaultConfig()
	cfg.Search.Query = "named"
	cfg.Privacy.PublicOnly = true
	s := NewSettingsFrom(cfg)

	q, _ := Get(s, KeySearchQuery)
	assert.Equal(t, "named", q)
	p, _ := Get(s, KeyPrivacy)
	assert.True(t, p.PublicOnly)
	d, _ := Get(s, KeyPollInterval)
	assert.Equal(t, cfg.Poll.Interval, d)
}

func TestSettingsConcurrentAccess(t *testing.T) {
	s := NewSettings()
	Subscribe(s, KeySearchLimit, func(int) {})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				Set(s, KeySearchLimit, n*100+j)
				_, _ = Get(s, KeySearchLimit)
			}
		}(i)
	}
	wg.Wait()
	_, ok := Get(s, KeySearchLimit)
	assert.True(t, ok)
}
