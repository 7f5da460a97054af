package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVisibilityJSON(t *testing.T) {
	tests := []struct {
		v    Visibility
		want string
	}{
		{Limited, `"limited"`},
		{Public, `"public"`},
	}
	for _, tt := range tests {
		data, err := json.Marshal(tt.v)
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(data))

		var got Visibility
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, tt.v, got)
	}
}

func TestVisibilityUnknownNameIsLimited(t *testing.T) {
	v := Public
	require.NoError(t, json.Unmarshal([]byte(`"extended"`), &v))
	assert.Equal(t, Limited, v)
}

func TestVisibilityMergeIsSticky(t *testing.T) {
	assert.Equal(t, Public, Limited.Merge(Public))
	assert.Equal(t, Limited, Limited.Merge(Limited))
	assert.Equal(t, Public, Public.Merge(Limited))
	assert.Equal(t, Public, Public.Merge(Public))
}

func TestPresenceJSON(t *testing.T) {
	var p Presence
	require.NoError(t, json.Unmarshal([]byte(`"ONLINE"`), &p))
	assert.Equal(t, Online, p)
	assert.Equal(t, "offline", Offline.String())
	assert.Equal(t, "unknown", Presence(9).String())
}

func TestIsNamed(t *testing.T) {
	assert.True(t, IsNamed("join a hangout named Foo"))
	assert.False(t, IsNamed("is hanging out with 3 people"))
	assert.False(t, IsNamed(""))
}

func TestRawResultDecode(t *testing.T) {
	data := `{"id":"h1","active":true,"text":"join a hangout named Foo","visibility":"public",
		"participants":[{"id":"p1","displayName":"Ada","circles":["friends"],"status":"online"}]}`

	var raw RawResult
	require.NoError(t, json.Unmarshal([]byte(data), &raw))
	assert.Equal(t, "h1", raw.ID)
	assert.True(t, raw.Active)
	assert.Equal(t, Public, raw.Visibility)
	require.Len(t, raw.Participants, 1)
	assert.Equal(t, Online, raw.Participants[0].Status)
	assert.Equal(t, []string{"friends"}, raw.Participants[0].Circles)
}

func TestRecordCloneIsDeep(t *testing.T) {
	rec := &Record{
		ID: "h1",
		Participants: []Participant{
			{ID: "p1", Circles: []string{"friends"}},
		},
	}
	c := rec.Clone()
	c.Participants[0].ID = "mutated"
	c.Participants[0].Circles[0] = "mutated"

	assert.Equal(t, "p1", rec.Participants[0].ID)
	assert.Equal(t, "friends", rec.Participants[0].Circles[0])
}

func TestRecordOwner(t *testing.T) {
	rec := &Record{}
	_, ok := rec.Owner()
	assert.False(t, ok)

	rec.Participants = []Participant{{ID: "owner"}, {ID: "guest"}}
	owner, ok := rec.Owner()
	require.True(t, ok)
	assert.Equal(t, "owner", owner.ID)
}

func TestFingerprintIgnoresSeenAt(t *testing.T) {
	a := RawResult{ID: "h1", Active: true, Text: "x", SeenAt: time.Unix(1, 0)}
	b := a
	b.SeenAt = time.Unix(2, 0)
	assert.Equal(t, fingerprint(a, Limited), fingerprint(b, Limited))

	b.Text = "y"
	assert.NotEqual(t, fingerprint(a, Limited), fingerprint(b, Limited))
	assert.NotEqual(t, fingerprint(a, Limited), fingerprint(a, Public))
}

func TestFingerprintSeparatesFields(t *testing.T) {
	a := RawResult{ID: "h1", Participants: []Participant{{ID: "ab", DisplayName: "c"}}}
	b := RawResult{ID: "h1", Participants: []Participant{{ID: "a", DisplayName: "bc"}}}
	assert.NotEqual(t, fingerprint(a, Limited), fingerprint(b, Limited))
}
