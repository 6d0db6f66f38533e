package ingestion

import (
	"crypto/sha1"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	v1 "github.com/statkit/statkit/internal/api/v1"
	"github.com/statkit/statkit/internal/core/stats"
)

// Registry names of the built-in preprocessors.
const (
	ProcessorStampIngested = "stamp_ingested"
	ProcessorFlagRobots    = "flag_robots"
	ProcessorBuildUniqueID = "build_unique_id"
	ProcessorHashID        = "hash_id"
)

// Processor enriches an event before it is persisted. Processors run in
// configured order and mutate the event in place; they must stay
// deterministic so that replaying a submission derives the same values.
type Processor func(stream stats.EventConfig, evt *v1.Event) error

// robotPattern matches user agents of known crawlers, harvesters and
// monitoring agents. Derived from the common COUNTER robot list; matching is
// case-insensitive and substring-based, the way those lists are applied.
var robotPattern = regexp.MustCompile(`(?i)(bot|crawl|spider|slurp|scraper|harvest|archiver|indexer|wget|curl|httpclient|python-requests|python-urllib|libwww-perl|go-http-client|java/|jakarta|sitecheck|linkcheck|facebookexternalhit|pingdom|uptimerobot|headlesschrome|phantomjs)`)

// StampIngested sets the server-side receive time when the submitter left it
// empty. The HTTP path stamps it while parsing; this keeps queue-sourced
// events on the same footing.
func StampIngested(_ stats.EventConfig, evt *v1.Event) error {
	if evt.IngestedAt.IsZero() {
		evt.IngestedAt = time.Now().UTC()
	}
	return nil
}

// FlagRobots marks events whose user agent matches a known robot pattern.
// An explicit true from the submitter stands.
func FlagRobots(_ stats.EventConfig, evt *v1.Event) error {
	if !evt.IsRobot && evt.UserAgent != "" {
		evt.IsRobot = robotPattern.MatchString(evt.UserAgent)
	}
	return nil
}

// BuildUniqueID joins the stream's identity fields into the subject key the
// deduplicating ID is derived from. A missing field keeps its position as an
// empty segment so the joined form stays stable across submissions.
func BuildUniqueID(stream stats.EventConfig, evt *v1.Event) error {
	if len(stream.IdentityFields) == 0 {
		return nil
	}

	parts := make([]string, len(stream.IdentityFields))
	for i, field := range stream.IdentityFields {
		if value, ok := evt.Lookup(field); ok {
			parts[i] = fmt.Sprintf("%v", value)
		}
	}
	evt.UniqueID = strings.Join(parts, "_")
	return nil
}

// HashID assigns the deterministic event ID: the occurrence timestamp joined
// with a SHA-1 over the subject key and visitor. Replaying the same
// submission derives the same ID, which is what lets the stores treat
// redelivery as overwrite instead of duplication.
func HashID(_ stats.EventConfig, evt *v1.Event) error {
	sum := sha1.Sum([]byte(evt.UniqueID + evt.VisitorID))
	evt.ID = fmt.Sprintf("%s-%x", evt.OccurredAt.UTC().Format(time.RFC3339), sum)
	return nil
}

var (
	procMu       sync.RWMutex
	procRegistry = map[string]Processor{
		ProcessorStampIngested: StampIngested,
		ProcessorFlagRobots:    FlagRobots,
		ProcessorBuildUniqueID: BuildUniqueID,
		ProcessorHashID:        HashID,
	}
)

// RegisterProcessor makes a processor resolvable from configuration under
// name. Names are claimed once; a second registration is a wiring mistake.
func RegisterProcessor(name string, p Processor) error {
	if p == nil {
		return fmt.Errorf("processor %q is nil", name)
	}

	procMu.Lock()
	defer procMu.Unlock()

	if _, exists := procRegistry[name]; exists {
		return fmt.Errorf("processor %q already registered", name)
	}
	procRegistry[name] = p
	return nil
}

// ProcessorsByName resolves configured processor names, preserving their
// order.
func ProcessorsByName(names ...string) ([]Processor, error) {
	procMu.RLock()
	defer procMu.RUnlock()

	procs := make([]Processor, 0, len(names))
	for _, n := range names {
		p, ok := procRegistry[n]
		if !ok {
			return nil, fmt.Errorf("unknown processor %q", n)
		}
		procs = append(procs, p)
	}
	return procs, nil
}

// ProcessorNames lists every registered processor, sorted for stable output.
func ProcessorNames() []string {
	procMu.RLock()
	defer procMu.RUnlock()

	out := make([]string, 0, len(procRegistry))
	for n := range procRegistry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// DefaultProcessorNames is the chain applied to streams that configure none:
// stamp the receive time, flag robots, derive the subject key, then the
// deterministic ID. Order matters - the ID hashes what the earlier steps
// produce.
func DefaultProcessorNames() []string {
	return []string{ProcessorStampIngested, ProcessorFlagRobots, ProcessorBuildUniqueID, ProcessorHashID}
}

// chainFor resolves the processor chain a stream configures, falling back to
// the default chain.
func chainFor(stream stats.EventConfig) ([]Processor, error) {
	names := stream.Processors
	if len(names) == 0 {
		names = DefaultProcessorNames()
	}
	procs, err := ProcessorsByName(names...)
	if err != nil {
		return nil, fmt.Errorf("stream %q: %w", stream.Type, err)
	}
	return procs, nil
}

// runChain applies the processors to evt in order.
func runChain(procs []Processor, stream stats.EventConfig, evt *v1.Event) error {
	for _, p := range procs {
		if err := p(stream, evt); err != nil {
			return err
		}
	}
	return nil
}
