package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/HendryAvila/indexbridge/internal/scheduler"
	"github.com/HendryAvila/indexbridge/internal/wal"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// OpsRouter returns the operational HTTP surface of svc: health, WAL
// inspection and maintenance, and metrics from gatherer.
func OpsRouter(svc *Service, gatherer prometheus.Gatherer) http.Handler {
	var h = &opsHandler{svc: svc}
	router := mux.NewRouter()
	router.Use(loggingMiddleware)

	router.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	// Registered on the root router so method mismatches answer 405.
	router.HandleFunc("/wal/stats", h.stats).Methods(http.MethodGet)
	router.HandleFunc("/wal/failed", h.failed).Methods(http.MethodGet)
	router.HandleFunc("/wal/tasks/{name}", h.runTask).Methods(http.MethodPost)
	router.HandleFunc("/wal/operations/{id}/resolve", h.resolve).Methods(http.MethodPost)

	return router
}

// ServeOps serves h on addr until ctx is done, then shuts down gracefully.
func ServeOps(ctx context.Context, addr string, h http.Handler) error {
	var srv = &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	var errCh = make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.WithField("addr", addr).Info("ops server listening")

	select {
	case err := <-errCh:
		return errors.WithMessage(err, "ops server")
	case <-ctx.Done():
	}
	var shutdownCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type opsHandler struct {
	svc *Service
}

// StatsResponse is the body of GET /wal/stats.
type StatsResponse struct {
	Stats         wal.Stats           `json:"stats"`
	ContentFiles  int                 `json:"content_files"`
	ContentBytes  int64               `json:"content_bytes"`
	OldestPending *wal.Record         `json:"oldest_pending,omitempty"`
	Scheduler     string              `json:"scheduler"`
	Jobs          []scheduler.JobInfo `json:"jobs"`
}

// FailedOperation is one entry of GET /wal/failed.
type FailedOperation struct {
	wal.Record
	Recoverable bool `json:"recoverable"`
}

func (h *opsHandler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"scheduler": h.svc.Scheduler.State().String(),
	})
}

func (h *opsHandler) stats(w http.ResponseWriter, _ *http.Request) {
	stats, err := h.svc.WAL.Statistics()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	var resp = StatsResponse{
		Stats:     stats,
		Scheduler: h.svc.Scheduler.State().String(),
		Jobs:      h.svc.Scheduler.Jobs(),
	}
	if resp.ContentFiles, resp.ContentBytes, err = h.svc.WAL.ContentStore().Size(); err != nil {
		log.WithField("err", err).Warn("measuring wal content")
	}
	if stats.Pending > 0 {
		if pending, err := h.svc.WAL.PendingOperations(); err == nil && len(pending) > 0 {
			resp.OldestPending = &pending[0]
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *opsHandler) failed(w http.ResponseWriter, r *http.Request) {
	var limit = 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.Errorf("invalid limit %q", s))
			return
		}
		limit = n
	}

	recs, err := h.svc.WAL.FailedOperations()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if len(recs) > limit {
		recs = recs[:limit]
	}
	var out = make([]FailedOperation, 0, len(recs))
	for _, rec := range recs {
		_, ok := h.svc.WAL.Content(rec.ID)
		out = append(out, FailedOperation{Record: rec, Recoverable: ok})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *opsHandler) runTask(w http.ResponseWriter, r *http.Request) {
	var name = mux.Vars(r)["name"]
	if err := h.svc.Scheduler.RunNow(r.Context(), name); errors.Is(err, scheduler.ErrUnknownTask) {
		writeError(w, http.StatusNotFound, err)
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	stats, err := h.svc.WAL.Statistics()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": name, "stats": stats})
}

func (h *opsHandler) resolve(w http.ResponseWriter, r *http.Request) {
	var id = mux.Vars(r)["id"]
	var body struct {
		Note string `json:"note"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
			writeError(w, http.StatusBadRequest, errors.WithMessage(err, "decoding body"))
			return
		}
	}

	ok, err := h.svc.WAL.Resolve(id, body.Note)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	} else if !ok {
		writeError(w, http.StatusNotFound, errors.Errorf("operation %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(wal.StatusSuccess)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithField("err", err).Warn("writing ops response")
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var start = time.Now()
		next.ServeHTTP(w, r)
		log.WithFields(log.Fields{
			"method":  r.Method,
			"path":    r.URL.Path,
			"elapsed": time.Since(start),
		}).Debug("ops request")
	})
}
