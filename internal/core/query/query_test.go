package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	v1 "github.com/statkit/statkit/internal/api/v1"
)

func testEvent(occurred time.Time, data map[string]interface{}) *v1.Event {
	return &v1.Event{
		Type:       "file-download",
		OccurredAt: occurred,
		Data:       data,
	}
}

func TestMatches_TimeRange(t *testing.T) {
	from := time.Date(2017, 6, 2, 0, 0, 0, 0, time.UTC)
	through := time.Date(2017, 6, 3, 0, 0, 0, 0, time.UTC)
	q := New("file-download", from, through)

	cases := []struct {
		name     string
		occurred time.Time
		want     bool
	}{
		{"inside range", from.Add(12 * time.Hour), true},
		{"exactly at from", from, true},
		{"exactly at through is excluded", through, false},
		{"before range", from.Add(-time.Second), false},
		{"after range", through.Add(time.Hour), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, q.Matches(testEvent(tc.occurred, nil)))
		})
	}
}

func TestMatches_EventType(t *testing.T) {
	q := New("record-view", time.Time{}, time.Time{})
	evt := testEvent(time.Now(), nil) // type file-download

	require.False(t, q.Matches(evt))
	require.True(t, New("file-download", time.Time{}, time.Time{}).Matches(evt))
	require.True(t, New("", time.Time{}, time.Time{}).Matches(evt), "empty type matches any stream")
}

func TestMatches_Conditions(t *testing.T) {
	evt := testEvent(time.Now(), map[string]interface{}{
		"country": "CH",
		"size":    float64(100),
	})
	evt.VisitorID = "visitor-1"

	base := New("file-download", time.Time{}, time.Time{})

	require.True(t, base.Where("country", "CH").Matches(evt))
	require.False(t, base.Where("country", "DE").Matches(evt))
	require.True(t, base.Where("visitor_id", "visitor-1").Matches(evt), "envelope fields are addressable")
	require.False(t, base.Where("nonexistent", "x").Matches(evt), "missing field never matches")
}

func TestMatches_NumericCoercion(t *testing.T) {
	// JSON decoding hands payload numbers over as float64; conditions are
	// often written as untyped ints. Both must compare equal.
	evt := testEvent(time.Now(), map[string]interface{}{"size": float64(100)})
	base := New("file-download", time.Time{}, time.Time{})

	require.True(t, base.Where("size", 100).Matches(evt))
	require.True(t, base.Where("size", int64(100)).Matches(evt))
	require.False(t, base.Where("size", 101).Matches(evt))
}

func TestWhereDoesNotMutateBase(t *testing.T) {
	base := New("file-download", time.Time{}, time.Time{}).Where("a", 1)
	withB := base.Where("b", 2)
	withC := base.Where("c", 3)

	require.Len(t, base.Conditions, 1)
	require.Len(t, withB.Conditions, 2)
	require.Len(t, withC.Conditions, 2)
	require.Equal(t, "b", withB.Conditions[1].Field)
	require.Equal(t, "c", withC.Conditions[1].Field, "sibling copies must not share backing arrays")
}

func TestFilterRobots(t *testing.T) {
	q := Apply(New("file-download", time.Time{}, time.Time{}), FilterRobots)

	human := testEvent(time.Now(), nil)
	robot := testEvent(time.Now(), nil)
	robot.IsRobot = true

	require.True(t, q.Matches(human))
	require.False(t, q.Matches(robot))
}

func TestApplyOrder(t *testing.T) {
	var order []string
	first := func(q Query) Query {
		order = append(order, "first")
		return q.Where("a", 1)
	}
	second := func(q Query) Query {
		order = append(order, "second")
		return q.Where("b", 2)
	}

	q := Apply(New("file-download", time.Time{}, time.Time{}), first, second)

	require.Equal(t, []string{"first", "second"}, order)
	require.Equal(t, "a", q.Conditions[0].Field)
	require.Equal(t, "b", q.Conditions[1].Field)
}

func TestRegistry(t *testing.T) {
	mods, err := ByName(ModifierFilterRobots)
	require.NoError(t, err)
	require.Len(t, mods, 1)

	_, err = ByName("no-such-modifier")
	require.Error(t, err)

	require.NoError(t, Register("test_noop", func(q Query) Query { return q }))
	require.Error(t, Register("test_noop", func(q Query) Query { return q }), "names are claimed once")
	require.Error(t, Register("test_nil", nil))

	require.Contains(t, Names(), ModifierFilterRobots)
	require.Contains(t, Names(), "test_noop")
}
