package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gyaneshwarpardhi/tcwebhook/internal/config"
	"github.com/gyaneshwarpardhi/tcwebhook/internal/event"
	"github.com/gyaneshwarpardhi/tcwebhook/internal/fetch"
	"github.com/gyaneshwarpardhi/tcwebhook/internal/metrics"
	"github.com/gyaneshwarpardhi/tcwebhook/internal/render"
	"github.com/gyaneshwarpardhi/tcwebhook/internal/render/feishu"
	"github.com/gyaneshwarpardhi/tcwebhook/internal/resource"
)

const defaultEventTimeout = 15 * time.Second

var (
	ErrQueueFull = errors.New("engine: render queue full")
	ErrTimeout   = errors.New("engine: render timed out")
)

// Request asks for one event to be rendered in Format, fetching its subject
// with the Fields selector.
type Request struct {
	Event  event.Event
	Format render.Format
	Fields string
}

// Outcome is one entry of a batch: the rendered result or the error that prevented it.
type Outcome struct {
	Event  event.Event
	Result render.Result
	Err    error
}

// Engine classifies events, fetches their resources and renders payloads.
type Engine struct {
	fetcher  atomic.Pointer[fetcherRef]
	registry *render.Registry
	pool     *workerPool[*renderWork]
	conf     config.EngineConf
}

type fetcherRef struct{ fetch.Fetcher }

type renderWork struct {
	ctx     context.Context
	req     Request
	resultC chan Outcome
}

// DefaultRegistry registers every supported format with the generic renderer as fallback.
func DefaultRegistry(logger *slog.Logger) *render.Registry {
	reg := render.NewRegistry(render.NewGeneric())
	reg.Register(feishu.New(logger))
	return reg
}

// New creates an Engine using conf and starts its worker pool.
func New(ctx context.Context, f fetch.Fetcher, reg *render.Registry, conf config.EngineConf) *Engine {
	e := &Engine{registry: reg, conf: conf}
	e.fetcher.Store(&fetcherRef{f})

	e.pool = newWorkerPool[*renderWork](ctx, conf.Workers, conf.QueueDepth,
		func(_ context.Context, w *renderWork) {
			res, err := e.Produce(w.ctx, w.req)
			w.resultC <- Outcome{Event: w.req.Event, Result: res, Err: err}
		},
	)
	return e
}

// SwapFetcher atomically replaces the fetcher (used on hot-reload).
func (e *Engine) SwapFetcher(f fetch.Fetcher) {
	e.fetcher.Store(&fetcherRef{f})
}

// Registry returns the format registry.
func (e *Engine) Registry() *render.Registry {
	return e.registry
}

// Supported reports whether events of this type can be rendered.
func (e *Engine) Supported(eventType string) bool {
	return resource.IsSupported(eventType)
}

// Produce classifies, fetches and renders one event on the caller's goroutine.
//
// Unsupported event types fail with resource.ErrUnsupportedEventType, object ids
// that are not a single path segment with event.ErrInvalidObjectID and fetch
// failures with fetch.ErrResourceFetch. Renderers that degrade instead of
// failing report through Result.Diagnostic.
func (e *Engine) Produce(ctx context.Context, req Request) (render.Result, error) {
	start := time.Now()
	defer func() {
		metrics.RenderDuration.Observe(float64(time.Since(start).Milliseconds()))
	}()

	kind, err := resource.Classify(req.Event.Type)
	if err != nil {
		metrics.EventsUnsupported.Inc()
		return render.Result{}, err
	}
	if err := req.Event.ObjectID.Validate(); err != nil {
		return render.Result{}, err
	}
	path := kind.Path(req.Event.ObjectID)

	doc, err := e.fetcher.Load().Fetch(ctx, path, req.Fields)
	if err != nil {
		metrics.FetchErrors.WithLabelValues(kind.Name).Inc()
		return render.Result{}, fetch.Wrap(path, err)
	}

	rd := e.registry.Resolve(req.Format)
	res, err := rd.Render(req.Event, doc)
	if err != nil {
		return res, fmt.Errorf("render %s payload for %s: %w", rd.Format(), req.Event.Type, err)
	}

	metrics.PayloadsRendered.WithLabelValues(kind.Name, string(res.Format)).Inc()
	if res.Partial() {
		metrics.PayloadsPartial.WithLabelValues(string(res.Format)).Inc()
	}
	return res, nil
}

// ProcessSync renders an event on the worker pool and waits for the result.
// Returns ErrQueueFull if the queue is full and ErrTimeout after the configured event timeout.
// When ctx is canceled the error matches context.Canceled.
func (e *Engine) ProcessSync(ctx context.Context, req Request) (render.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()

	w := &renderWork{ctx: ctx, req: req, resultC: make(chan Outcome, 1)}
	if !e.pool.Submit(w) {
		metrics.EventsDropped.Inc()
		return render.Result{}, fmt.Errorf("%w (capacity %d)", ErrQueueFull, e.pool.QueueCap())
	}
	out := e.wait(ctx, w)
	return out.Result, out.Err
}

// ProcessBatch renders all requests concurrently on the worker pool.
// Outcomes are returned in request order.
func (e *Engine) ProcessBatch(ctx context.Context, reqs []Request) []Outcome {
	ctx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()

	outcomes := make([]Outcome, len(reqs))
	work := make([]*renderWork, len(reqs))
	for i, req := range reqs {
		w := &renderWork{ctx: ctx, req: req, resultC: make(chan Outcome, 1)}
		if !e.pool.Submit(w) {
			metrics.EventsDropped.Inc()
			outcomes[i] = Outcome{Event: req.Event, Err: fmt.Errorf("%w (capacity %d)", ErrQueueFull, e.pool.QueueCap())}
			continue
		}
		work[i] = w
	}
	for i, w := range work {
		if w != nil {
			outcomes[i] = e.wait(ctx, w)
		}
	}
	return outcomes
}

func (e *Engine) wait(ctx context.Context, w *renderWork) Outcome {
	select {
	case out := <-w.resultC:
		return out
	case <-ctx.Done():
		err := ctx.Err()
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			err = fmt.Errorf("%w after %v", ErrTimeout, e.timeout())
		case errors.Is(err, context.Canceled):
			err = fmt.Errorf("engine: render abandoned: %w", err)
		}
		return Outcome{Event: w.req.Event, Err: err}
	}
}

func (e *Engine) timeout() time.Duration {
	if e.conf.EventTimeoutMs <= 0 {
		return defaultEventTimeout
	}
	return time.Duration(e.conf.EventTimeoutMs) * time.Millisecond
}

// QueueUtilization returns queue used / capacity (0–1).
func (e *Engine) QueueUtilization() float64 {
	if e.pool.QueueCap() == 0 {
		return 0
	}
	return float64(e.pool.QueueLen()) / float64(e.pool.QueueCap())
}

// Shutdown drains the pool gracefully.
func (e *Engine) Shutdown() {
	e.pool.Drain()
}
