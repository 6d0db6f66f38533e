package stats

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/statkit/statkit/internal/core/interval"
	"github.com/statkit/statkit/internal/core/partition"
)

// EventConfig describes one registered event stream: how its events are
// partitioned and how their identity is derived at ingestion time.
type EventConfig struct {
	Type           string            // event type name, e.g. "file-download"
	Interval       interval.Interval // partition granularity
	IdentityFields []string          // payload fields joined into UniqueID
	Processors     []string          // ingestion preprocessor names, applied in order
	Fingerprint    string            // SHA-256 of the defining YAML file; computed at load time
}

// AggregationConfig describes one aggregation target over a registered
// stream: the bucket granularity, the dimension events group under, and the
// metrics derived per bucket.
type AggregationConfig struct {
	Name           string
	EventType      string            // source stream
	TargetType     string            // names the stats table; defaults to EventType
	Interval       interval.Interval // bucket granularity, never finer than the stream's
	DimensionField string            // payload field grouped on
	CopyFields     map[string]string // document field -> payload field, taken from the latest event
	Metrics        []MetricSpec
	QueryModifiers []string // resolved against the query modifier registry
}

// TargetTable names the table the target's documents live in.
func (c AggregationConfig) TargetTable() string {
	return partition.StatsTable(c.TargetType)
}

// rawStream is the on-disk YAML shape: one event stream per file, with its
// aggregations declared inline. Intervals default to "day" when omitted.
type rawStream struct {
	Event struct {
		Type           string   `yaml:"type"`
		Interval       string   `yaml:"interval"`
		IdentityFields []string `yaml:"identity_fields"`
		Processors     []string `yaml:"processors"`
	} `yaml:"event"`
	Aggregations []struct {
		Name           string            `yaml:"name"`
		Interval       string            `yaml:"interval"`
		TargetType     string            `yaml:"target_type"`
		DimensionField string            `yaml:"dimension_field"`
		CopyFields     map[string]string `yaml:"copy_fields"`
		Metrics        []MetricSpec      `yaml:"metrics"`
		QueryModifiers []string          `yaml:"query_modifiers"`
	} `yaml:"aggregations"`
}

// Registry holds every registered stream and aggregation target, validated
// as a set. The interval ordering rule is enforced here: an aggregation
// finer than its stream's partitions is a configuration error, not a
// runtime one.
type Registry struct {
	events       map[string]EventConfig
	aggregations map[string]AggregationConfig
}

// NewRegistry validates and indexes the given configs.
func NewRegistry(events []EventConfig, aggregations []AggregationConfig) (*Registry, error) {
	r := &Registry{
		events:       make(map[string]EventConfig, len(events)),
		aggregations: make(map[string]AggregationConfig, len(aggregations)),
	}

	for _, ev := range events {
		if ev.Type == "" {
			return nil, fmt.Errorf("event config: type must not be empty")
		}
		if !ev.Interval.Valid() {
			return nil, fmt.Errorf("event %q: invalid interval %q", ev.Type, string(ev.Interval))
		}
		if _, exists := r.events[ev.Type]; exists {
			return nil, fmt.Errorf("event %q: duplicate stream definition", ev.Type)
		}
		r.events[ev.Type] = ev
	}

	for _, agg := range aggregations {
		if agg.Name == "" {
			return nil, fmt.Errorf("aggregation config: name must not be empty")
		}
		src, ok := r.events[agg.EventType]
		if !ok {
			return nil, fmt.Errorf("aggregation %q: unknown event type %q", agg.Name, agg.EventType)
		}
		if err := interval.Validate(agg.Interval, src.Interval); err != nil {
			return nil, fmt.Errorf("aggregation %q: %w", agg.Name, err)
		}
		if agg.DimensionField == "" {
			return nil, fmt.Errorf("aggregation %q: dimension_field must not be empty", agg.Name)
		}

		seen := make(map[string]struct{}, len(agg.Metrics))
		for _, m := range agg.Metrics {
			if m.Name == "" || m.Field == "" {
				return nil, fmt.Errorf("aggregation %q: metric needs both name and field", agg.Name)
			}
			if !ValidOperator(m.Operator) {
				return nil, fmt.Errorf("aggregation %q: unsupported metric operator %q", agg.Name, m.Operator)
			}
			if _, dup := seen[m.Name]; dup {
				return nil, fmt.Errorf("aggregation %q: duplicate metric %q", agg.Name, m.Name)
			}
			seen[m.Name] = struct{}{}
		}

		if agg.TargetType == "" {
			agg.TargetType = agg.EventType
		}
		if _, exists := r.aggregations[agg.Name]; exists {
			return nil, fmt.Errorf("aggregation %q: duplicate name (check multiple YAML files)", agg.Name)
		}
		r.aggregations[agg.Name] = agg
	}

	return r, nil
}

// LoadRegistry loads stream definitions from *.yaml files in dir. Each file
// declares one event stream and its aggregations. A missing directory is
// valid and yields an empty registry.
func LoadRegistry(dir string) (*Registry, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return NewRegistry(nil, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("stats registry dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("stats registry path %q is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading stats registry dir: %w", err)
	}

	var (
		events       []EventConfig
		aggregations []AggregationConfig
	)
	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading stream file %s: %w", path, err)
		}

		var raw rawStream
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing stream file %s: %w", path, err)
		}
		if raw.Event.Type == "" {
			continue // skip empty / comment-only files
		}

		evIv := interval.Day
		if raw.Event.Interval != "" {
			if evIv, err = interval.Parse(raw.Event.Interval); err != nil {
				return nil, fmt.Errorf("stream %q: %w", raw.Event.Type, err)
			}
		}

		events = append(events, EventConfig{
			Type:           raw.Event.Type,
			Interval:       evIv,
			IdentityFields: raw.Event.IdentityFields,
			Processors:     raw.Event.Processors,
			Fingerprint:    fmt.Sprintf("%x", sha256.Sum256(data)),
		})

		for _, a := range raw.Aggregations {
			aggIv := interval.Day
			if a.Interval != "" {
				if aggIv, err = interval.Parse(a.Interval); err != nil {
					return nil, fmt.Errorf("aggregation %q: %w", a.Name, err)
				}
			}
			aggregations = append(aggregations, AggregationConfig{
				Name:           a.Name,
				EventType:      raw.Event.Type,
				TargetType:     a.TargetType,
				Interval:       aggIv,
				DimensionField: a.DimensionField,
				CopyFields:     a.CopyFields,
				Metrics:        a.Metrics,
				QueryModifiers: a.QueryModifiers,
			})
		}
	}

	return NewRegistry(events, aggregations)
}

// Event returns the stream definition for an event type.
func (r *Registry) Event(eventType string) (EventConfig, bool) {
	ev, ok := r.events[eventType]
	return ev, ok
}

// Aggregation returns the target with the given name.
func (r *Registry) Aggregation(name string) (AggregationConfig, bool) {
	agg, ok := r.aggregations[name]
	return agg, ok
}

// Events lists every registered stream, sorted by type.
func (r *Registry) Events() []EventConfig {
	out := make([]EventConfig, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Aggregations lists every target, sorted by name so scheduled runs walk
// them in a stable order.
func (r *Registry) Aggregations() []AggregationConfig {
	out := make([]AggregationConfig, 0, len(r.aggregations))
	for _, agg := range r.aggregations {
		out = append(out, agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AggregationsFor lists the targets reading from the given event type.
func (r *Registry) AggregationsFor(eventType string) []AggregationConfig {
	var out []AggregationConfig
	for _, agg := range r.aggregations {
		if agg.EventType == eventType {
			out = append(out, agg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
