package mock

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/hangwatch/backend/internal/poller"
	"github.com/hangwatch/backend/internal/session"
)

// ErrSimulatedFailure is returned by Search when a failure is injected.
var ErrSimulatedFailure = errors.New("simulated search failure")

type mockHangout struct {
	id           string
	topic        string
	named        bool
	visibility   session.Visibility
	participants []session.Participant
	ticksLeft    int
}

var (
	topics = []string{"standup", "book club", "late night coding", "board games", "karaoke", "study group"}
	people = []session.Participant{
		{ID: "p-ada", DisplayName: "Ada", Circles: []string{"friends"}},
		{ID: "p-grace", DisplayName: "Grace", Circles: []string{"work-team"}},
		{ID: "p-linus", DisplayName: "Linus", Circles: []string{"friends", "family"}},
		{ID: "p-barbara", DisplayName: "Barbara", Circles: []string{"acquaintances"}},
		{ID: "p-ken", DisplayName: "Ken", Circles: []string{"work-team"}},
		{ID: "p-margaret", DisplayName: "Margaret"},
	}
)

// Generator is a deterministic simulated search source. Every Search call
// advances the simulation one step: hangouts start, gain and lose
// participants, and end. Ended hangouts are reported once as inactive.
type Generator struct {
	mu          sync.Mutex
	rng         *rand.Rand
	failureRate float64
	live        []*mockHangout
	nextID      int
	reinits     int
	now         func() time.Time
}

var _ poller.Searcher = (*Generator)(nil)

// NewGenerator seeds the simulation. failureRate is the probability in
// [0,1] that a Search call fails.
func NewGenerator(seed uint64, failureRate float64) *Generator {
	g := &Generator{
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		failureRate: failureRate,
		now:         time.Now,
	}
	for i := 0; i < 3; i++ {
		g.spawn()
	}
	return g
}

func (g *Generator) Name() string { return "mock" }

func (g *Generator) Reinit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reinits++
	return nil
}

// Reinits reports how many times Reinit was called.
func (g *Generator) Reinits() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reinits
}

func (g *Generator) Search(ctx context.Context, _ string, opts poller.SearchOptions) ([]session.RawResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.failureRate > 0 && g.rng.Float64() < g.failureRate {
		return nil, ErrSimulatedFailure
	}

	now := g.now()
	var results []session.RawResult
	var still []*mockHangout
	for _, h := range g.live {
		h.ticksLeft--
		if h.ticksLeft <= 0 {
			results = append(results, session.RawResult{ID: h.id, Active: false, SeenAt: now})
			continue
		}
		g.churn(h)
		still = append(still, h)
	}
	g.live = still

	if len(g.live) < 2 || g.rng.IntN(3) == 0 {
		g.spawn()
	}

	for _, h := range g.live {
		if opts.Limit > 0 && len(results) >= opts.Limit {
			break
		}
		results = append(results, h.result(now))
	}
	return results, nil
}

func (g *Generator) spawn() {
	g.nextID++
	h := &mockHangout{
		id:        fmt.Sprintf("mock-%04d", g.nextID),
		topic:     topics[g.rng.IntN(len(topics))],
		named:     g.rng.IntN(2) == 0,
		ticksLeft: 3 + g.rng.IntN(8),
	}
	if g.rng.IntN(3) == 0 {
		h.visibility = session.Public
	}
	n := 1 + g.rng.IntN(3)
	for _, i := range g.rng.Perm(len(people))[:n] {
		h.participants = append(h.participants, people[i])
	}
	g.live = append(g.live, h)
}

// churn occasionally adds or removes a participant. The owner (first
// participant) never leaves while the hangout is live.
func (g *Generator) churn(h *mockHangout) {
	switch g.rng.IntN(4) {
	case 0:
		candidate := people[g.rng.IntN(len(people))]
		for _, p := range h.participants {
			if p.ID == candidate.ID {
				return
			}
		}
		h.participants = append(h.participants, candidate)
	case 1:
		if len(h.participants) > 1 {
			h.participants = h.participants[:len(h.participants)-1]
		}
	case 2:
		if h.visibility == session.Limited && g.rng.IntN(4) == 0 {
			h.visibility = session.Public
		}
	}
}

func (h *mockHangout) result(now time.Time) session.RawResult {
	text := fmt.Sprintf("is hanging out with %d people", len(h.participants))
	if h.named {
		text = "join a hangout named " + h.topic
	}
	ps := make([]session.Participant, len(h.participants))
	for i, p := range h.participants {
		p.Status = session.Online
		if p.Circles != nil {
			p.Circles = append([]string(nil), p.Circles...)
		}
		ps[i] = p
	}
	return session.RawResult{
		ID:           h.id,
		Active:       true,
		Text:         text,
		Visibility:   h.visibility,
		Participants: ps,
		SeenAt:       now,
	}
}
