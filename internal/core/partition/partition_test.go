package partition

import (
	"testing"
	"time"

	"github.com/statkit/statkit/internal/core/interval"
)

func TestFragment(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"file-download", "file_download"},
		{"File-Download", "file_download"},
		{"record_view", "record_view"},
		{"celery.task", "celery_task"},
		{"a b/c", "a_b_c"},
		{"v2", "v2"},
	}
	for _, tc := range cases {
		if got := Fragment(tc.in); got != tc.want {
			t.Errorf("Fragment(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestEventTable(t *testing.T) {
	ts := time.Date(2017, 6, 2, 14, 30, 0, 0, time.UTC)

	cases := []struct {
		iv   interval.Interval
		want string
	}{
		{interval.Day, "events_file_download_2017_06_02"},
		{interval.Month, "events_file_download_2017_06"},
		{interval.Year, "events_file_download_2017"},
	}
	for _, tc := range cases {
		if got := EventTable("file-download", ts, tc.iv); got != tc.want {
			t.Errorf("EventTable(%s) = %q, want %q", tc.iv, got, tc.want)
		}
	}
}

func TestStatsTable(t *testing.T) {
	if got := StatsTable("file-download"); got != "stats_file_download" {
		t.Errorf("StatsTable = %q, want stats_file_download", got)
	}
}

func TestParsePeriod(t *testing.T) {
	period, ok := ParsePeriod("events_file_download_2017_06_02", "file-download", interval.Day)
	if !ok {
		t.Fatal("expected table to parse")
	}
	if want := time.Date(2017, 6, 2, 0, 0, 0, 0, time.UTC); !period.Equal(want) {
		t.Errorf("period = %v, want %v", period, want)
	}
}

func TestParsePeriod_Rejects(t *testing.T) {
	cases := []struct {
		name      string
		table     string
		eventType string
		iv        interval.Interval
	}{
		{"wrong event type", "events_record_view_2017_06_02", "file-download", interval.Day},
		{"stats table", "stats_file_download", "file-download", interval.Day},
		{"suffix at wrong granularity", "events_file_download_2017_06_02", "file-download", interval.Month},
		{"garbage suffix", "events_file_download_latest", "file-download", interval.Day},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, ok := ParsePeriod(tc.table, tc.eventType, tc.iv); ok {
				t.Errorf("ParsePeriod(%q) unexpectedly succeeded", tc.table)
			}
		})
	}
}

func TestEventTableRoundTrip(t *testing.T) {
	ts := time.Date(2016, 2, 29, 8, 0, 0, 0, time.UTC)
	for _, iv := range []interval.Interval{interval.Day, interval.Month, interval.Year} {
		table := EventTable("record-view", ts, iv)
		period, ok := ParsePeriod(table, "record-view", iv)
		if !ok {
			t.Fatalf("ParsePeriod(%q) failed", table)
		}
		if want := iv.Start(ts); !period.Equal(want) {
			t.Errorf("%s: period = %v, want %v", iv, period, want)
		}
	}
}
