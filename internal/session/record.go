package session

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// NamedMarker is the phrase the upstream source puts in the descriptive text
// of hangouts that were explicitly given a name by their owner.
const NamedMarker = "hangout named"

type Visibility int

const (
	Limited Visibility = iota
	Public
)

var visibilityNames = map[Visibility]string{
	Limited: "limited",
	Public:  "public",
}

var visibilityFromName = map[string]Visibility{
	"limited": Limited,
	"public":  Public,
}

func (v Visibility) String() string {
	if s, ok := visibilityNames[v]; ok {
		return s
	}
	return "unknown"
}

func (v Visibility) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

// UnmarshalJSON accepts the lowercase names. Unknown names decode as Limited.
func (v *Visibility) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*v = visibilityFromName[strings.ToLower(s)]
	return nil
}

// Merge returns the visibility after a refresh observed next. Public is
// sticky: once public, a session never drops back to limited.
func (v Visibility) Merge(next Visibility) Visibility {
	if v == Public {
		return Public
	}
	return next
}

type Presence int

const (
	Offline Presence = iota
	Online
)

var presenceNames = map[Presence]string{
	Offline: "offline",
	Online:  "online",
}

var presenceFromName = map[string]Presence{
	"offline": Offline,
	"online":  Online,
}

func (p Presence) String() string {
	if s, ok := presenceNames[p]; ok {
		return s
	}
	return "unknown"
}

func (p Presence) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Presence) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*p = presenceFromName[strings.ToLower(s)]
	return nil
}

// Participant is one person in a hangout: the owner is always the first entry.
type Participant struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	Circles     []string `json:"circles,omitempty"`
	Status      Presence `json:"status"`
}

func (p Participant) clone() Participant {
	if p.Circles != nil {
		p.Circles = append([]string(nil), p.Circles...)
	}
	return p
}

// RawResult is a single entry of a search batch as delivered by the
// upstream source, before reconciliation.
type RawResult struct {
	ID           string        `json:"id"`
	Active       bool          `json:"active"`
	Text         string        `json:"text"`
	Visibility   Visibility    `json:"visibility"`
	Participants []Participant `json:"participants,omitempty"`
	SeenAt       time.Time     `json:"seenAt,omitempty"`
}

// Record is a live hangout in the authoritative list.
type Record struct {
	ID           string        `json:"id"`
	Active       bool          `json:"active"`
	Text         string        `json:"text"`
	Named        bool          `json:"named"`
	Visibility   Visibility    `json:"visibility"`
	Participants []Participant `json:"participants"`
	LastSeen     time.Time     `json:"lastSeen"`

	fingerprint uint64
}

// IsNamed reports whether the descriptive text explicitly names the hangout.
func IsNamed(text string) bool {
	return strings.Contains(text, NamedMarker)
}

// Owner returns the first participant, if any.
func (r *Record) Owner() (Participant, bool) {
	if len(r.Participants) == 0 {
		return Participant{}, false
	}
	return r.Participants[0], true
}

// Clone returns a deep copy of the Record, duplicating the participant slice
// so the copy can be mutated independently of the original.
func (r *Record) Clone() *Record {
	c := *r
	if r.Participants != nil {
		c.Participants = make([]Participant, len(r.Participants))
		for i, p := range r.Participants {
			c.Participants[i] = p.clone()
		}
	}
	return &c
}

// fill overwrites the content of r with raw. Visibility is handled by the
// caller because it depends on the cached classification.
func (r *Record) fill(raw RawResult, vis Visibility, now time.Time) {
	r.ID = raw.ID
	r.Active = true
	r.Text = raw.Text
	r.Named = IsNamed(raw.Text)
	r.Visibility = vis
	r.Participants = make([]Participant, len(raw.Participants))
	for i, p := range raw.Participants {
		r.Participants[i] = p.clone()
	}
	r.LastSeen = raw.SeenAt
	if r.LastSeen.IsZero() {
		r.LastSeen = now
	}
	r.fingerprint = fingerprint(raw, vis)
}

// fingerprint hashes everything that makes two sightings of the same hangout
// different. SeenAt is excluded so a re-sent result with identical content
// leaves the record untouched.
func fingerprint(raw RawResult, vis Visibility) uint64 {
	d := xxhash.New()
	write := func(s string) {
		_, _ = d.WriteString(s)
		_, _ = d.Write([]byte{0})
	}
	write(raw.ID)
	write(raw.Text)
	write(vis.String())
	for _, p := range raw.Participants {
		write(p.ID)
		write(p.DisplayName)
		write(p.Status.String())
		for _, c := range p.Circles {
			write(c)
		}
		write("")
	}
	return d.Sum64()
}
