// Package query describes filtered scans over event streams and the
// modifiers that reshape them before execution.
package query

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	v1 "github.com/statkit/statkit/internal/api/v1"
	"github.com/statkit/statkit/internal/core/stats"
)

// ModifierFilterRobots is the registry name of the built-in robot filter.
const ModifierFilterRobots = "filter_robots"

// Condition restricts a scan to events whose field equals Value. Fields
// resolve against the event envelope first, then the payload.
type Condition struct {
	Field string
	Value interface{}
}

// Query describes one pass over an event stream: an event type, a half-open
// time range [From, Through) and zero or more equality conditions. Where
// returns extended copies, so a modifier can never corrupt the base query
// another consumer still holds.
type Query struct {
	EventType  string
	From       time.Time
	Through    time.Time
	Conditions []Condition
}

// New builds a query over eventType covering [from, through).
// Zero bounds leave that side of the range open.
func New(eventType string, from, through time.Time) Query {
	return Query{EventType: eventType, From: from, Through: through}
}

// Where returns a copy of q with an extra equality condition.
func (q Query) Where(field string, value interface{}) Query {
	conds := make([]Condition, len(q.Conditions), len(q.Conditions)+1)
	copy(conds, q.Conditions)
	q.Conditions = append(conds, Condition{Field: field, Value: value})
	return q
}

// Matches reports whether e falls inside the query range and satisfies every
// condition.
func (q Query) Matches(e *v1.Event) bool {
	if q.EventType != "" && e.Type != q.EventType {
		return false
	}
	if !q.From.IsZero() && e.OccurredAt.Before(q.From) {
		return false
	}
	if !q.Through.IsZero() && !e.OccurredAt.Before(q.Through) {
		return false
	}
	for _, c := range q.Conditions {
		got, ok := e.Lookup(c.Field)
		if !ok || !equalValues(got, c.Value) {
			return false
		}
	}
	return true
}

// equalValues compares loosely across the numeric types a JSON round trip
// produces: a condition written as 100 still matches a payload float64(100).
func equalValues(a, b interface{}) bool {
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	ad, aok := stats.NumericValue(a)
	bd, bok := stats.NumericValue(b)
	if aok && bok {
		return ad.Equal(bd)
	}
	return reflect.DeepEqual(a, b)
}

// Modifier rewrites a query before execution. Modifiers run in configured
// order and must return the reshaped copy rather than mutate their argument.
type Modifier func(Query) Query

// Apply folds mods over q, left to right.
func Apply(q Query, mods ...Modifier) Query {
	for _, m := range mods {
		q = m(q)
	}
	return q
}

// FilterRobots narrows a query to events not flagged as robot traffic.
func FilterRobots(q Query) Query {
	return q.Where("is_robot", false)
}

var (
	mu       sync.RWMutex
	registry = map[string]Modifier{
		ModifierFilterRobots: FilterRobots,
	}
)

// Register makes a modifier resolvable from configuration under name.
// Names are claimed once; a second registration is a wiring mistake.
func Register(name string, m Modifier) error {
	if m == nil {
		return fmt.Errorf("query modifier %q is nil", name)
	}

	mu.Lock()
	defer mu.Unlock()

	if _, exists := registry[name]; exists {
		return fmt.Errorf("query modifier %q already registered", name)
	}
	registry[name] = m
	return nil
}

// ByName resolves configured modifier names, preserving their order.
func ByName(names ...string) ([]Modifier, error) {
	mu.RLock()
	defer mu.RUnlock()

	mods := make([]Modifier, 0, len(names))
	for _, n := range names {
		m, ok := registry[n]
		if !ok {
			return nil, fmt.Errorf("unknown query modifier %q", n)
		}
		mods = append(mods, m)
	}
	return mods, nil
}

// Names lists every registered modifier, sorted for stable output.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
