package alerts

import (
	"fmt"
	"sync"

	"hwpulse/internal/telemetry"
)

// Operator is a threshold comparison.
type Operator string

const (
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
)

func (op Operator) breached(value, bound float64) bool {
	switch op {
	case OpGreater:
		return value > bound
	case OpGreaterEqual:
		return value >= bound
	case OpLess:
		return value < bound
	case OpLessEqual:
		return value <= bound
	}
	return false
}

// Rule binds a threshold to a series.
type Rule struct {
	Name     string   `json:"name" mapstructure:"name"`
	SeriesID string   `json:"series_id" mapstructure:"series_id"`
	Operator Operator `json:"operator" mapstructure:"operator"`
	Bound    float64  `json:"bound" mapstructure:"bound"`
	Severity Severity `json:"severity" mapstructure:"severity"`
}

func (r Rule) fingerprint() string {
	return fingerprint("threshold", r.SeriesID, r.Name)
}

type ruleState int

const (
	stateNormal ruleState = iota
	stateBreached
)

// Engine evaluates threshold rules and discrete state changes against
// incoming samples. Each (series, rule) pair is a two-state machine:
// crossing into breach emits exactly one event, and nothing further fires
// until the value returns across the bound. A sample landing exactly on a
// strict bound does not retrigger.
type Engine struct {
	mu       sync.RWMutex
	rules    map[string][]Rule // series id -> rules
	states   map[string]ruleState
	lastSeen map[string]float64 // discrete series -> previous value
	discrete map[string]bool
	sink     func(Event)
}

// NewEngine builds an engine delivering emitted events to sink. A nil sink
// discards events; Evaluate still returns them.
func NewEngine(sink func(Event)) *Engine {
	return &Engine{
		rules:    make(map[string][]Rule),
		states:   make(map[string]ruleState),
		lastSeen: make(map[string]float64),
		discrete: make(map[string]bool),
		sink:     sink,
	}
}

// SetSink replaces the event sink. Used when the sink is constructed
// after the engine, as the query facade is.
func (e *Engine) SetSink(sink func(Event)) {
	e.mu.Lock()
	e.sink = sink
	e.mu.Unlock()
}

// AddRule registers a threshold rule. Initial state is Normal.
func (e *Engine) AddRule(r Rule) error {
	switch r.Operator {
	case OpGreater, OpGreaterEqual, OpLess, OpLessEqual:
	default:
		return fmt.Errorf("rule %s: unknown operator %q", r.Name, r.Operator)
	}
	if r.Severity == "" {
		r.Severity = SeverityWarning
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[r.SeriesID] = append(e.rules[r.SeriesID], r)
	e.states[r.fingerprint()] = stateNormal
	return nil
}

// WatchStateChanges marks a series as discrete: any change from the
// immediately preceding value emits a StateChange event.
func (e *Engine) WatchStateChanges(seriesID string) {
	e.mu.Lock()
	e.discrete[seriesID] = true
	e.mu.Unlock()
}

// Rules returns the rules registered for a series.
func (e *Engine) Rules(seriesID string) []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, len(e.rules[seriesID]))
	copy(out, e.rules[seriesID])
	return out
}

// Evaluate runs every rule for the series against one sample and returns
// the events that fired, already delivered to the sink.
func (e *Engine) Evaluate(seriesID string, ts int64, value float64) []Event {
	e.mu.Lock()
	var fired []Event

	for _, r := range e.rules[seriesID] {
		fp := r.fingerprint()
		breached := r.Operator.breached(value, r.Bound)
		switch e.states[fp] {
		case stateNormal:
			if breached {
				e.states[fp] = stateBreached
				ev := Event{
					ID:          eventID(fp, ts),
					Kind:        KindThreshold,
					Severity:    r.Severity,
					SeriesID:    seriesID,
					Timestamp:   ts,
					Value:       value,
					Threshold:   r.Bound,
					Message:     fmt.Sprintf("%s: %s %s %g (value %g)", r.Name, seriesID, r.Operator, r.Bound, value),
					Fingerprint: fp,
				}
				fired = append(fired, ev)
			}
		case stateBreached:
			if !breached {
				e.states[fp] = stateNormal
			}
		}
	}

	if e.discrete[seriesID] {
		prev, seen := e.lastSeen[seriesID]
		e.lastSeen[seriesID] = value
		if seen && prev != value {
			fp := fingerprint("state_change", seriesID)
			fired = append(fired, Event{
				ID:          eventID(fp, ts),
				Kind:        KindStateChange,
				Severity:    SeverityInfo,
				SeriesID:    seriesID,
				Timestamp:   ts,
				Value:       value,
				Message:     fmt.Sprintf("%s changed %g -> %g", seriesID, prev, value),
				Fingerprint: fp,
			})
		}
	}
	sink := e.sink
	e.mu.Unlock()

	for _, ev := range fired {
		telemetry.EventsEmitted.WithLabelValues(string(ev.Kind)).Inc()
		if sink != nil {
			sink(ev)
		}
	}
	return fired
}

// ActiveBreaches returns, per series, the rules currently in the Breached
// state. The fleet scorer charges penalties off this view.
func (e *Engine) ActiveBreaches() map[string][]Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string][]Rule)
	for seriesID, rules := range e.rules {
		for _, r := range rules {
			if e.states[r.fingerprint()] == stateBreached {
				out[seriesID] = append(out[seriesID], r)
			}
		}
	}
	return out
}
