// Package tap runs a Sunwave extraction: it schedules independent streams on
// a bounded worker pool, walks every partition page by page, fans out child
// work units from parent records, and commits bookmarks as pages complete.
package tap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/Sternrassler/sunwave-tap/pkg/classify"
	"github.com/Sternrassler/sunwave-tap/pkg/client"
	"github.com/Sternrassler/sunwave-tap/pkg/logging"
	"github.com/Sternrassler/sunwave-tap/pkg/pagination"
	"github.com/Sternrassler/sunwave-tap/pkg/schema"
	"github.com/Sternrassler/sunwave-tap/pkg/state"
	"github.com/Sternrassler/sunwave-tap/pkg/stream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for extraction runs.
var (
	recordsEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sunwave_records_emitted_total",
		Help: "Records written to the sink by stream",
	}, []string{"stream"})

	streamFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sunwave_stream_failures_total",
		Help: "Streams ended by a fatal error",
	}, []string{"stream"})
)

// Fetcher performs signed GET requests. *client.Client implements it.
type Fetcher interface {
	Get(ctx context.Context, path string, query url.Values) (*client.Response, error)
}

// SchemaResolver looks up stream schemas. *schema.Source implements it.
type SchemaResolver interface {
	Resolve(ref string) (schema.Schema, error)
}

// Config wires a Tap. Schemas is optional; everything else is required.
type Config struct {
	Graph      *stream.Graph
	Client     Fetcher
	Classifier *classify.Classifier
	Store      state.Store
	Sink       Sink
	Schemas    SchemaResolver

	// StartDate bounds the first run of windowed streams.
	StartDate time.Time

	// MaxConcurrency is the number of root streams extracted in parallel.
	MaxConcurrency int

	Pagination pagination.Config

	// Now is read once per run for every {end} placeholder.
	Now func() time.Time

	Logger zerolog.Logger
}

// Tap extracts the selected streams.
type Tap struct {
	cfg       Config
	paginator *pagination.Paginator
	logger    zerolog.Logger
}

// New validates cfg and creates a Tap.
func New(cfg Config) (*Tap, error) {
	switch {
	case cfg.Graph == nil:
		return nil, errors.New("stream graph is required")
	case cfg.Client == nil:
		return nil, errors.New("client is required")
	case cfg.Classifier == nil:
		return nil, errors.New("classifier is required")
	case cfg.Store == nil:
		return nil, errors.New("state store is required")
	case cfg.Sink == nil:
		return nil, errors.New("sink is required")
	case cfg.StartDate.IsZero():
		return nil, errors.New("start date is required")
	}

	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Tap{
		cfg:       cfg,
		paginator: pagination.NewPaginator(cfg.Pagination, cfg.Logger),
		logger:    cfg.Logger,
	}, nil
}

// Run extracts every needed root stream and its descendants. A stream that
// fails does not stop its siblings; failures are reported per stream in the
// Report. The returned error is for run-level problems only: a schema or
// state write failure, or a cancelled ctx.
func (t *Tap) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	now := t.cfg.Now().UTC()

	if err := t.writeSchemas(); err != nil {
		return nil, err
	}

	roots := t.cfg.Graph.Roots()
	queue := make(chan *stream.Definition, len(roots))
	results := make(chan []StreamResult, len(roots))
	for _, def := range roots {
		queue <- def
	}
	close(queue)

	workers := t.cfg.MaxConcurrency
	if workers > len(roots) {
		workers = len(roots)
	}

	t.logger.Info().
		Int("streams", len(roots)).
		Int("workers", workers).
		Time("start_date", t.cfg.StartDate).
		Msg("Starting extraction")

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go t.worker(ctx, now, queue, results, &wg, i)
	}

	// Close results channel when all workers done
	go func() {
		wg.Wait()
		close(results)
	}()

	collected := make(map[string]StreamResult)
	for batch := range results {
		for _, r := range batch {
			collected[r.Stream] = r
		}
	}

	report := &Report{}
	for _, name := range t.cfg.Graph.Names() {
		if r, ok := collected[name]; ok {
			report.Streams = append(report.Streams, r)
		}
	}

	// committed bookmarks are reported even when ctx was cancelled
	snap, err := t.cfg.Store.Snapshot(context.WithoutCancel(ctx))
	if err != nil {
		return report, fmt.Errorf("snapshot state: %w", err)
	}
	report.State = snap
	if err := t.cfg.Sink.WriteState(snap); err != nil {
		return report, err
	}

	t.logger.Info().
		Int("streams", len(report.Streams)).
		Strs("failed", report.Failed()).
		Dur("duration", time.Since(start)).
		Msg("Extraction complete")

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// worker extracts root streams from the queue.
func (t *Tap) worker(ctx context.Context, now time.Time, queue <-chan *stream.Definition, results chan<- []StreamResult, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	streamsProcessed := 0

	for def := range queue {
		// Check context cancellation
		select {
		case <-ctx.Done():
			results <- []StreamResult{{Stream: def.Name, Err: ctx.Err()}}
			continue
		default:
		}

		run := newTreeRun(t, now, def)
		run.runRoot(ctx, def)
		results <- run.results()
		streamsProcessed++
	}

	t.logger.Debug().
		Int("worker_id", workerID).
		Int("streams_processed", streamsProcessed).
		Msg("Worker finished")
}

func (t *Tap) writeSchemas() error {
	if t.cfg.Schemas == nil {
		return nil
	}

	for _, name := range t.cfg.Graph.Names() {
		if !t.cfg.Graph.IsSelected(name) {
			continue
		}
		def, _ := t.cfg.Graph.Get(name)

		ref := def.SchemaRef
		if ref == "" {
			ref = def.Name
		}
		sc, err := t.cfg.Schemas.Resolve(ref)
		if err != nil {
			t.logger.Warn().
				Err(err).
				Str("stream", name).
				Str("ref", ref).
				Msg("Schema not found - emitting permissive schema")
			sc = schema.MakeNullable(schema.Schema{"type": "object"})
		}

		var bookmarkProps []string
		if def.Incremental() {
			bookmarkProps = []string{def.ReplicationKey}
		}
		if err := t.cfg.Sink.WriteSchema(name, sc, def.PrimaryKeys, bookmarkProps); err != nil {
			return fmt.Errorf("write schema for %s: %w", name, err)
		}
	}
	return nil
}

// treeRun extracts one root stream and its descendants. It is confined to a
// single worker goroutine.
type treeRun struct {
	tap    *Tap
	now    time.Time
	order  []string
	byName map[string]*StreamResult
}

func newTreeRun(t *Tap, now time.Time, root *stream.Definition) *treeRun {
	run := &treeRun{
		tap:    t,
		now:    now,
		byName: make(map[string]*StreamResult),
	}
	run.register(root)
	return run
}

// register creates results for def and every needed descendant so they are
// reported even when no parent record produced a child work unit.
func (r *treeRun) register(def *stream.Definition) {
	r.order = append(r.order, def.Name)
	r.byName[def.Name] = &StreamResult{Stream: def.Name}
	for _, child := range r.tap.cfg.Graph.Children(def.Name) {
		if r.tap.cfg.Graph.Needed(child.Name) {
			r.register(child)
		}
	}
}

func (r *treeRun) results() []StreamResult {
	out := make([]StreamResult, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.byName[name])
	}
	return out
}

func (r *treeRun) runRoot(ctx context.Context, def *stream.Definition) {
	g := r.tap.cfg.Graph
	logger := logging.StreamLogger(r.tap.logger, def.Name, "")
	logger.Info().Bool("selected", g.IsSelected(def.Name)).Msg("Stream started")

	partitions := def.Partitions
	if len(partitions) == 0 {
		partitions = []stream.Context{nil}
	}

	for _, p := range partitions {
		key := state.Key{Stream: def.Name, Partition: p}

		bookmark := ""
		if def.Window == stream.WindowBookmark {
			b, err := r.bookmark(ctx, key)
			if err != nil {
				r.fail(def, p, err)
				return
			}
			bookmark = b
		}

		unit := stream.MergeContext(def.WindowContext(bookmark, r.tap.cfg.StartDate, r.now), p)
		if err := r.runUnit(ctx, def, unit, key); err != nil {
			r.fail(def, unit, err)
			return
		}
	}

	res := r.byName[def.Name]
	logger.Info().
		Int("records", res.Records).
		Int("pages", res.Pages).
		Int("skipped", res.Skipped).
		Msg("Stream finished")
}

func (r *treeRun) bookmark(ctx context.Context, key state.Key) (string, error) {
	b, err := r.tap.cfg.Store.Get(ctx, key)
	if errors.Is(err, state.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read bookmark: %w", err)
	}
	return b, nil
}

func (r *treeRun) fail(def *stream.Definition, unit stream.Context, err error) {
	res := r.byName[def.Name]
	if res.Err != nil {
		return
	}
	res.Err = err
	streamFailuresTotal.WithLabelValues(def.Name).Inc()

	r.tap.logger.Error().
		Err(err).
		Str("stream", def.Name).
		Str("partition", unit.String()).
		Int("records", res.Records).
		Msg("Stream failed - remaining pagination aborted")
}

// runUnit paginates one work unit to exhaustion. Each page is emitted, then
// its child work units run, then the bookmark for key advances.
func (r *treeRun) runUnit(ctx context.Context, def *stream.Definition, unit stream.Context, key state.Key) error {
	path, err := def.PathFor(unit)
	if err != nil {
		return err
	}

	g := r.tap.cfg.Graph
	res := r.byName[def.Name]
	logger := logging.StreamLogger(r.tap.logger, def.Name, unit.String())
	logger.Debug().Str("endpoint", path).Msg("Work unit started")

	fetch := func(ctx context.Context, token string) (pagination.Page, error) {
		return r.fetchPage(ctx, def, path, token)
	}

	onPage := func(page pagination.Page) error {
		res.Pages++

		records := make([]stream.Record, 0, len(page.Records))
		for _, raw := range page.Records {
			if rec := def.Process(raw); rec != nil {
				records = append(records, rec)
			}
		}

		if g.IsSelected(def.Name) {
			for _, rec := range records {
				if err := r.tap.cfg.Sink.WriteRecord(def.Name, rec); err != nil {
					return err
				}
				res.Records++
			}
			recordsEmittedTotal.WithLabelValues(def.Name).Add(float64(len(records)))
		}

		r.runChildren(ctx, def, records)

		if def.Incremental() && g.IsSelected(def.Name) {
			return r.advance(ctx, def, key, records, logger)
		}
		return nil
	}

	return r.tap.paginator.Walk(ctx, def.Name, fetch, onPage)
}

// fetchPage requests one page and classifies it. A skippable response
// yields an empty page that still follows any continuation marker.
func (r *treeRun) fetchPage(ctx context.Context, def *stream.Definition, path, token string) (pagination.Page, error) {
	var query url.Values
	if token != "" {
		query = url.Values{pagination.PageParam: {token}}
	}

	resp, err := r.tap.cfg.Client.Get(ctx, path, query)
	if err != nil {
		return pagination.Page{}, err
	}

	result := r.tap.cfg.Classifier.Classify(classify.Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Path:       resp.Path,
		Body:       resp.Body,
	}, def.Name)

	switch result.Outcome {
	case classify.Fatal:
		return pagination.Page{}, result.Err
	case classify.Skippable:
		r.byName[def.Name].Skipped++
		var body any
		_ = json.Unmarshal(resp.Body, &body)
		next, _ := pagination.NextPageToken(body)
		return pagination.Page{NextToken: next}, nil
	}

	return pagination.ParsePage(result.Value, def.RecordsKey)
}

// runChildren runs every needed child once per parent record that carries
// the linking fields. A failed child stops receiving work units; the parent
// keeps going.
func (r *treeRun) runChildren(ctx context.Context, parent *stream.Definition, records []stream.Record) {
	g := r.tap.cfg.Graph
	for _, child := range g.Children(parent.Name) {
		if !g.Needed(child.Name) {
			continue
		}
		res := r.byName[child.Name]

		for _, rec := range records {
			if res.Err != nil || ctx.Err() != nil {
				break
			}
			childCtx, ok := stream.ChildContext(parent, rec)
			if !ok {
				continue
			}
			for _, unit := range child.WorkUnits(childCtx) {
				if err := r.runUnit(ctx, child, unit, state.Key{Stream: child.Name}); err != nil {
					r.fail(child, unit, err)
					break
				}
			}
		}
	}
}

func (r *treeRun) advance(ctx context.Context, def *stream.Definition, key state.Key, records []stream.Record, logger zerolog.Logger) error {
	current, err := r.bookmark(ctx, key)
	if err != nil {
		return err
	}

	next, moved := stream.NextBookmark(current, records, def.ReplicationKey)
	if !moved {
		return nil
	}

	advanced, err := r.tap.cfg.Store.Advance(ctx, key, next)
	if errors.Is(err, state.ErrInvalidBookmark) {
		logger.Warn().Err(err).Str("bookmark", next).Msg("Replication key is not a datetime - bookmark unchanged")
		return nil
	}
	if err != nil {
		return fmt.Errorf("advance bookmark: %w", err)
	}
	if advanced {
		logger.Info().Str("bookmark", next).Msg("Bookmark advanced")
	}
	return nil
}
