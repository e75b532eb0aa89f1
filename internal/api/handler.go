package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/tcwebhook/internal/config"
	"github.com/gyaneshwarpardhi/tcwebhook/internal/engine"
	"github.com/gyaneshwarpardhi/tcwebhook/internal/event"
	"github.com/gyaneshwarpardhi/tcwebhook/internal/fetch"
	"github.com/gyaneshwarpardhi/tcwebhook/internal/metrics"
	"github.com/gyaneshwarpardhi/tcwebhook/internal/render"
	"github.com/gyaneshwarpardhi/tcwebhook/internal/resource"
)

const maxBatchSize = 100

// statusClientClosedRequest is the nginx status for a caller that went away.
const statusClientClosedRequest = 499

// Handler holds all HTTP handler dependencies.
type Handler struct {
	eng    *engine.Engine
	loader *config.Loader
	mux    *http.ServeMux
}

// renderRequest is the body of POST /v1/payloads and one item of a batch.
// Format and Fields fall back to the configured defaults when empty.
type renderRequest struct {
	event.Event
	Format string `json:"format"`
	Fields string `json:"fields"`
}

// New creates an HTTP handler and registers all routes.
func New(eng *engine.Engine, loader *config.Loader) http.Handler {
	h := &Handler{eng: eng, loader: loader, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /v1/payloads", h.renderPayload)
	h.mux.HandleFunc("POST /v1/payloads/batch", h.renderBatch)
	h.mux.HandleFunc("GET /v1/events/{type}/support", h.eventSupport)
	h.mux.HandleFunc("GET /v1/kinds", h.listKinds)
	h.mux.HandleFunc("GET /v1/formats", h.listFormats)
	h.mux.HandleFunc("POST /v1/config/reload", h.reloadConfig)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(h.mux)
}

// POST /v1/payloads — render one event and return the payload as the body.
func (h *Handler) renderPayload(w http.ResponseWriter, r *http.Request) {
	var in renderRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	req, err := h.request(in, time.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.eng.ProcessSync(r.Context(), req)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.Header().Set("X-Event-Id", req.Event.ID)
	w.Header().Set("X-Payload-Format", string(res.Format))
	if res.Partial() {
		w.Header().Set("X-Payload-Partial", "true")
		w.Header().Set("X-Payload-Diagnostic", res.Diagnostic.Error())
	}
	writeRaw(w, http.StatusOK, res.Payload)
}

type batchItem struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	Format     render.Format   `json:"format,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Partial    bool            `json:"partial,omitempty"`
	Diagnostic string          `json:"diagnostic,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// POST /v1/payloads/batch — render up to 100 events concurrently.
func (h *Handler) renderBatch(w http.ResponseWriter, r *http.Request) {
	var in []renderRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if len(in) == 0 {
		writeError(w, http.StatusBadRequest, "batch must contain at least one event")
		return
	}
	if len(in) > maxBatchSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("batch size %d exceeds max %d", len(in), maxBatchSize))
		return
	}

	now := time.Now()
	reqs := make([]engine.Request, 0, len(in))
	for i, item := range in {
		req, err := h.request(item, now)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("batch[%d]: %s", i, err))
			return
		}
		reqs = append(reqs, req)
	}

	outcomes := h.eng.ProcessBatch(r.Context(), reqs)
	items := make([]batchItem, len(outcomes))
	failed := 0
	for i, out := range outcomes {
		item := batchItem{EventID: out.Event.ID, EventType: out.Event.Type}
		if out.Err != nil {
			item.Error = out.Err.Error()
			failed++
		} else {
			item.Format = out.Result.Format
			item.Payload = out.Result.Payload
			if out.Result.Partial() {
				item.Partial = true
				item.Diagnostic = out.Result.Diagnostic.Error()
			}
		}
		items[i] = item
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":   uuid.New().String(),
		"total":    len(items),
		"rendered": len(items) - failed,
		"failed":   failed,
		"results":  items,
	})
}

// GET /v1/events/{type}/support — check whether an event type can be rendered.
func (h *Handler) eventSupport(w http.ResponseWriter, r *http.Request) {
	typ := r.PathValue("type")
	out := map[string]interface{}{
		"event_type": typ,
		"supported":  h.eng.Supported(typ),
	}
	if kind, err := resource.Classify(typ); err == nil {
		out["kind"] = kind.Name
		out["path_prefix"] = kind.PathPrefix
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /v1/kinds — the classification table.
func (h *Handler) listKinds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"kinds": resource.Kinds(),
	})
}

// GET /v1/formats — registered output formats.
func (h *Handler) listFormats(w http.ResponseWriter, r *http.Request) {
	reg := h.eng.Registry()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"formats":  reg.Formats(),
		"fallback": reg.Fallback().Format(),
		"default":  h.loader.Config().Render.DefaultFormat,
	})
}

// POST /v1/config/reload — re-read the config file; OnChange callbacks apply it.
func (h *Handler) reloadConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.loader.Reload()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reloaded":       true,
		"version":        cfg.Version,
		"default_format": cfg.Render.DefaultFormat,
	})
}

// GET /healthz — always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz — 503 if render queue >80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.eng.QueueUtilization()
	metrics.QueueUtilization.Set(util)
	if util > 0.8 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ready",
		"queue_utilization": util,
	})
}

// request validates one incoming event and fills in configured defaults.
func (h *Handler) request(in renderRequest, receivedAt time.Time) (engine.Request, error) {
	if in.Type == "" {
		return engine.Request{}, errors.New("event_type is required")
	}
	if in.ObjectID == "" {
		return engine.Request{}, errors.New("object_id is required")
	}
	if err := in.ObjectID.Validate(); err != nil {
		return engine.Request{}, err
	}
	ev := in.Event
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	ev.ReceivedAt = receivedAt

	cfg := h.loader.Config()
	format := in.Format
	if format == "" {
		format = cfg.Render.DefaultFormat
	}
	fields := in.Fields
	if fields == "" {
		fields = cfg.ResourceAPI.Fields
	}
	return engine.Request{Event: ev, Format: render.Format(format), Fields: fields}, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	case errors.Is(err, event.ErrInvalidObjectID):
		return http.StatusBadRequest
	case errors.Is(err, resource.ErrUnsupportedEventType):
		return http.StatusUnprocessableEntity
	case errors.Is(err, fetch.ErrResourceFetch), errors.Is(err, render.ErrInvalidDocument):
		return http.StatusBadGateway
	case errors.Is(err, engine.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, engine.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
