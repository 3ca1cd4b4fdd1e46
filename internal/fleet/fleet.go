// Package fleet folds per-host alert and prediction state into health
// scores, per host and per tag group.
package fleet

import (
	"errors"
	"sort"
	"sync"
	"time"

	constants "hwpulse/config"
	"hwpulse/internal/alerts"
)

// ErrHostNotFound is returned for hosts that never reported.
var ErrHostNotFound = errors.New("host not found")

// Penalties weights the score deductions per outstanding problem.
type Penalties struct {
	Warning          float64
	Critical         float64
	PredictedFailure float64
}

// DefaultPenalties returns the standard weights.
func DefaultPenalties() Penalties {
	return Penalties{
		Warning:          constants.DEFAULT_PENALTY_THRESHOLD_WARN,
		Critical:         constants.DEFAULT_PENALTY_THRESHOLD_CRIT,
		PredictedFailure: constants.DEFAULT_PENALTY_PREDICTED_FAIL,
	}
}

// HostState is what the aggregator knows about one host. It is also the
// fleet report wire payload.
type HostState struct {
	HostID            string            `json:"host_id" cbor:"1,keyasint"`
	Tags              map[string]string `json:"tags,omitempty" cbor:"2,keyasint,omitempty"`
	LastSeen          int64             `json:"last_seen" cbor:"3,keyasint"`
	ActiveBreaches    []alerts.Severity `json:"active_breaches,omitempty" cbor:"4,keyasint,omitempty"`
	PredictedFailures int               `json:"predicted_failures" cbor:"5,keyasint"`
}

// Score is a computed health score.
type Score struct {
	HostID string  `json:"host_id,omitempty"`
	Value  float64 `json:"value"`
	Stale  bool    `json:"stale,omitempty"`
}

// GroupScore is a fleet-level score for one tag value.
type GroupScore struct {
	Tag      string  `json:"tag"`
	TagValue string  `json:"tag_value"`
	Value    float64 `json:"value"`
	Hosts    int     `json:"hosts"` // hosts included in the mean
	Stale    int     `json:"stale"` // hosts excluded as stale
}

// Aggregator tracks host registrations and computes scores. Hosts report
// their state through Report; a host silent for longer than the staleness
// window drops out of group means rather than dragging them to zero.
type Aggregator struct {
	penalties Penalties
	staleness time.Duration

	mu    sync.RWMutex
	hosts map[string]*HostState
}

func NewAggregator(penalties Penalties, staleness time.Duration) *Aggregator {
	if staleness <= 0 {
		staleness = constants.DEFAULT_STALENESS_WINDOW
	}
	return &Aggregator{
		penalties: penalties,
		staleness: staleness,
		hosts:     make(map[string]*HostState),
	}
}

// Report replaces a host's state. LastSeen of zero is stamped with now.
func (a *Aggregator) Report(st HostState) {
	if st.LastSeen == 0 {
		st.LastSeen = time.Now().UnixMilli()
	}
	a.mu.Lock()
	a.hosts[st.HostID] = &st
	a.mu.Unlock()
}

// Hosts returns the known host ids, sorted.
func (a *Aggregator) Hosts() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.hosts))
	for id := range a.hosts {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Snapshot is the whole fleet at one instant.
type Snapshot struct {
	Hosts  int     `json:"hosts"`
	Online int     `json:"online"`
	Stale  int     `json:"stale"`
	Scores []Score `json:"scores"`
}

// FleetSnapshot scores every known host, sorted by host id.
func (a *Aggregator) FleetSnapshot(now time.Time) Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	snap := Snapshot{Scores: make([]Score, 0, len(a.hosts))}
	for id, st := range a.hosts {
		snap.Hosts++
		stale := a.isStale(st, now)
		if stale {
			snap.Stale++
		} else {
			snap.Online++
		}
		snap.Scores = append(snap.Scores, Score{HostID: id, Value: a.score(st), Stale: stale})
	}
	sort.Slice(snap.Scores, func(i, j int) bool { return snap.Scores[i].HostID < snap.Scores[j].HostID })
	return snap
}

// score computes the penalty-weighted health of one host state.
func (a *Aggregator) score(st *HostState) float64 {
	v := 100.0
	for _, sev := range st.ActiveBreaches {
		switch sev {
		case alerts.SeverityCritical:
			v -= a.penalties.Critical
		default:
			v -= a.penalties.Warning
		}
	}
	v -= float64(st.PredictedFailures) * a.penalties.PredictedFailure
	if v < 0 {
		v = 0
	}
	return v
}

// HostScore computes one host's score. ok is false for unknown hosts.
// Stale hosts still get a score; staleness only matters for group means.
func (a *Aggregator) HostScore(hostID string, now time.Time) (Score, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st, ok := a.hosts[hostID]
	if !ok {
		return Score{}, false
	}
	return Score{
		HostID: hostID,
		Value:  a.score(st),
		Stale:  a.isStale(st, now),
	}, true
}

func (a *Aggregator) isStale(st *HostState, now time.Time) bool {
	return now.UnixMilli()-st.LastSeen > a.staleness.Milliseconds()
}

// GroupScore averages the scores of fresh hosts carrying tag=value. Stale
// hosts are counted but excluded from the mean. ok is false when no host
// carries the tag at all.
func (a *Aggregator) GroupScore(tag, value string, now time.Time) (GroupScore, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	gs := GroupScore{Tag: tag, TagValue: value}
	sum := 0.0
	found := false
	for _, st := range a.hosts {
		if st.Tags[tag] != value {
			continue
		}
		found = true
		if a.isStale(st, now) {
			gs.Stale++
			continue
		}
		sum += a.score(st)
		gs.Hosts++
	}
	if !found {
		return GroupScore{}, false
	}
	if gs.Hosts > 0 {
		gs.Value = sum / float64(gs.Hosts)
	}
	return gs, true
}
