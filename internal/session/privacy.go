package session

import (
	"crypto/sha256"
	"fmt"
	"path"
)

// PrivacyFilter applies masking and visibility filtering to records before
// they leave the process. The zero value is a no-op filter.
type PrivacyFilter struct {
	PublicOnly         bool     `yaml:"public_only" json:"publicOnly"`
	MaskParticipantIDs bool     `yaml:"mask_participant_ids" json:"maskParticipantIds"`
	MaskCircles        bool     `yaml:"mask_circles" json:"maskCircles"`
	BlockedCircles     []string `yaml:"blocked_circles" json:"blockedCircles,omitempty"`
}

// IsAllowed reports whether rec may be published. Limited hangouts are
// dropped when PublicOnly is set. A hangout is also dropped when any of its
// participants belongs to a circle matching a BlockedCircles glob.
func (f *PrivacyFilter) IsAllowed(rec *Record) bool {
	if f.PublicOnly && rec.Visibility != Public {
		return false
	}
	for _, pattern := range f.BlockedCircles {
		for _, p := range rec.Participants {
			for _, c := range p.Circles {
				if matched, _ := path.Match(pattern, c); matched {
					return false
				}
			}
		}
	}
	return true
}

// Apply returns a copy of the record with sensitive fields masked according
// to the filter configuration. The original record is never modified.
func (f *PrivacyFilter) Apply(rec *Record) *Record {
	masked := rec.Clone()
	for i := range masked.Participants {
		p := &masked.Participants[i]
		if f.MaskParticipantIDs && p.ID != "" {
			p.ID = shortHash(p.ID)
		}
		if f.MaskCircles {
			p.Circles = nil
		}
	}
	return masked
}

// FilterSlice returns a new slice containing only the allowed records, with
// masking applied to each. The original slice is not modified.
func (f *PrivacyFilter) FilterSlice(records []*Record) []*Record {
	result := make([]*Record, 0, len(records))
	for _, rec := range records {
		if !f.IsAllowed(rec) {
			continue
		}
		result = append(result, f.Apply(rec))
	}
	return result
}

// IsNoop reports whether the filter does nothing.
func (f *PrivacyFilter) IsNoop() bool {
	return !f.PublicOnly && !f.MaskParticipantIDs && !f.MaskCircles && len(f.BlockedCircles) == 0
}

// shortHash returns a truncated SHA-256 hex digest for an opaque identifier.
func shortHash(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h[:6])
}
