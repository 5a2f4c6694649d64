// Package normalize converts heterogeneous raw payloads into canonical
// events and runs the filter / enrichment / output pipeline around them.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"argus/core"
	"argus/metrics"
	"argus/util/goroutine"
)

// Normalized is what a source-specific normalizer extracts from a raw
// payload. Fields land in the event's normalized tree alongside the
// structural attributes.
type Normalized struct {
	Title       string
	Description string
	EventType   core.EventType
	Severity    core.Severity
	Tags        []string
	Fields      map[string]interface{}
}

// Normalizer turns one raw payload into its normalized form.
type Normalizer interface {
	Normalize(raw map[string]interface{}) (*Normalized, error)
}

// Enricher adds supplementary data to an already-normalized event.
// Failures are logged and never block other enrichers.
type Enricher interface {
	Enrich(ev *core.Event) (map[string]interface{}, error)
}

// Filter decides whether a normalized event continues through the
// pipeline. Returning false drops the event; the drop is counted, not an
// error.
type Filter interface {
	Filter(ev *core.Event) bool
}

// OutputHandler receives every event that survives filtering and
// enrichment. Handlers are isolated from each other.
type OutputHandler func(ev *core.Event)

// Stats is a snapshot of processor counters.
type Stats struct {
	Processed int64
	Filtered  int64
	Enriched  int64
	Errors    int64
}

type namedEnricher struct {
	name     string
	enricher Enricher
}

// Processor is the event normalizer: a source-keyed normalizer registry
// with a generic fallback, plus ordered filters, enrichers and output
// handlers.
type Processor struct {
	mu          sync.RWMutex
	normalizers map[string]Normalizer
	fallback    Normalizer
	enrichers   []namedEnricher
	filters     []Filter
	handlers    []OutputHandler

	stats  Stats
	logger *zap.SugaredLogger
}

// NewProcessor creates a processor with the generic fallback normalizer
// preinstalled for unknown sources.
func NewProcessor(logger *zap.SugaredLogger) *Processor {
	return &Processor{
		normalizers: make(map[string]Normalizer),
		fallback:    &FallbackNormalizer{},
		logger:      logger,
	}
}

// RegisterNormalizer binds a normalizer to a source identifier.
func (p *Processor) RegisterNormalizer(source string, n Normalizer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.normalizers[source] = n
	p.logger.Infow("normalizer registered", "source", source)
}

// RegisterEnricher appends a named enricher. Enrichers run in
// registration order.
func (p *Processor) RegisterEnricher(name string, e Enricher) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enrichers = append(p.enrichers, namedEnricher{name: name, enricher: e})
	p.logger.Infow("enricher registered", "name", name)
}

// AddFilter appends a filter. Filters run in registration order.
func (p *Processor) AddFilter(f Filter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filters = append(p.filters, f)
}

// AddOutputHandler appends an output handler.
func (p *Processor) AddOutputHandler(h OutputHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, h)
}

// Process normalizes one raw payload from source. It returns (nil, nil)
// when a filter drops the event, and a ValidationError when the payload
// cannot be normalized.
func (p *Processor) Process(raw map[string]interface{}, source string) (*core.Event, error) {
	p.mu.Lock()
	p.stats.Processed++
	p.mu.Unlock()

	if len(raw) == 0 {
		p.recordError(source)
		return nil, &core.ValidationError{Source: source, Reason: "empty payload"}
	}
	if source == "" {
		p.recordError(source)
		return nil, &core.ValidationError{Source: source, Reason: "missing source identifier"}
	}

	p.mu.RLock()
	normalizer, ok := p.normalizers[source]
	if !ok {
		normalizer = p.fallback
	}
	filters := p.filters
	enrichers := p.enrichers
	handlers := p.handlers
	p.mu.RUnlock()

	norm, err := normalizer.Normalize(raw)
	if err != nil {
		p.recordError(source)
		return nil, &core.ValidationError{Source: source, Reason: "normalization failed", Err: err}
	}

	ev := &core.Event{
		ID:          eventID(source, raw),
		Timestamp:   extractTimestamp(raw),
		Type:        norm.EventType,
		Source:      source,
		Severity:    norm.Severity,
		Title:       norm.Title,
		Description: norm.Description,
		Raw:         raw,
		Normalized:  norm.Fields,
		Enrichment:  make(map[string]interface{}),
		Tags:        norm.Tags,
	}
	if ev.Type == "" {
		ev.Type = core.EventTypeSystem
	}
	if ev.Severity == 0 {
		ev.Severity = core.SeverityMedium
	}
	if ev.Normalized == nil {
		ev.Normalized = make(map[string]interface{})
	}

	for _, f := range filters {
		if !f.Filter(ev) {
			p.mu.Lock()
			p.stats.Filtered++
			p.mu.Unlock()
			metrics.EventsFiltered.Inc()
			return nil, nil
		}
	}

	for _, ne := range enrichers {
		data, err := ne.enricher.Enrich(ev)
		if err != nil {
			metrics.EnrichmentFailures.WithLabelValues(ne.name).Inc()
			p.logger.Warnw("enricher failed", "enricher", ne.name, "event_id", ev.ID, "error", err)
			continue
		}
		if data != nil {
			ev.Enrichment[ne.name] = data
			p.mu.Lock()
			p.stats.Enriched++
			p.mu.Unlock()
		}
	}

	for _, h := range handlers {
		p.dispatch(h, ev)
	}

	metrics.EventsNormalized.WithLabelValues(source).Inc()
	return ev, nil
}

// dispatch runs one output handler with panic isolation so a failing
// handler cannot break the others or the pipeline.
func (p *Processor) dispatch(h OutputHandler, ev *core.Event) {
	defer goroutine.Recover("output-handler", p.logger)
	h(ev)
}

func (p *Processor) recordError(source string) {
	p.mu.Lock()
	p.stats.Errors++
	p.mu.Unlock()
	metrics.EventsRejected.WithLabelValues(source).Inc()
}

// Stats returns a snapshot of the processor counters.
func (p *Processor) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stats
}

// eventID derives an id from a content hash plus a random suffix. The
// random suffix keeps replayed payloads distinguishable.
func eventID(source string, raw map[string]interface{}) string {
	content, err := json.Marshal(raw)
	if err != nil {
		content = []byte(fmt.Sprintf("%v", raw))
	}
	sum := sha256.Sum256([]byte(source + ":" + string(content)))
	return fmt.Sprintf("%s_%s_%s", source, hex.EncodeToString(sum[:])[:16], uuid.NewString()[:8])
}

// timestampFields is the fixed probe order for raw timestamps.
var timestampFields = []string{"timestamp", "@timestamp", "time", "datetime", "created_at"}

// extractTimestamp probes the raw payload for a usable timestamp;
// unparseable or absent values default to ingestion time.
func extractTimestamp(raw map[string]interface{}) time.Time {
	for _, field := range timestampFields {
		v, ok := raw[field]
		if !ok {
			continue
		}
		switch val := v.(type) {
		case string:
			for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
				if t, err := time.Parse(layout, val); err == nil {
					return t
				}
			}
		case float64:
			return time.Unix(int64(val), 0).UTC()
		case int64:
			return time.Unix(val, 0).UTC()
		case int:
			return time.Unix(int64(val), 0).UTC()
		case time.Time:
			return val
		}
	}
	return time.Now().UTC()
}
