// Package api serves the local HTTP surface of the daemon: the latest status,
// configuration edits, history and charts.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/gridctl/internal/config"
	"github.com/banshee-data/gridctl/internal/db"
	"github.com/banshee-data/gridctl/internal/engine"
	"github.com/banshee-data/gridctl/internal/httputil"
	"github.com/banshee-data/gridctl/internal/monitoring"
	"github.com/banshee-data/gridctl/internal/version"
)

// ANSI escape codes used by the request log.
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

const maxConfigBody = 1 << 20

// StatusSource provides the most recent cycle status.
type StatusSource interface {
	Latest() *engine.Status
}

// History is the read side of the cycle history store.
type History interface {
	RecentCycles(ctx context.Context, limit int) ([]db.CycleRecord, error)
	ChannelHistory(ctx context.Context, ch int, since time.Time, limit int) ([]db.ChannelPoint, error)
	SignalHistory(ctx context.Context, name string, since time.Time, limit int) ([]db.SignalPoint, error)
}

// Server holds the collaborators of the HTTP handlers. History and ListPorts
// may be nil.
type Server struct {
	store     *config.Store
	status    StatusSource
	history   History
	listPorts func() ([]string, error)
	now       func() time.Time
}

// NewServer returns a server reading status from status and editing the
// configuration held by store.
func NewServer(store *config.Store, status StatusSource, history History, listPorts func() ([]string, error)) *Server {
	return &Server{
		store:     store,
		status:    status,
		history:   history,
		listPorts: listPorts,
		now:       time.Now,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns a mux with every API route and /metrics.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/history", s.listHistory)
	mux.HandleFunc("/api/ports", s.listSerialPorts)
	mux.HandleFunc("/api/version", s.showVersion)
	mux.HandleFunc("/api/charts/curve", s.handleCurveChart)
	mux.HandleFunc("/api/charts/curve.png", s.handleCurvePNG)
	mux.HandleFunc("/api/charts/history", s.handleHistoryChart)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	st := s.status.Latest()
	if st == nil {
		httputil.ServiceUnavailable(w, "no cycle has completed yet")
		return
	}
	httputil.WriteJSONOK(w, struct {
		*engine.Status
		Healthy bool `json:"healthy"`
	}{st, st.Healthy()})
}

type configResponse struct {
	Epoch  uint64         `json:"epoch"`
	Config *config.Config `json:"config"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg, epoch := s.store.Snapshot()
		httputil.WriteJSONOK(w, configResponse{Epoch: epoch, Config: cfg})
	case http.MethodPut, http.MethodPost:
		s.updateConfig(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

// updateConfig replaces the whole configuration. Comments are accepted in the
// body, as in the configuration file.
func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxConfigBody+1))
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("failed to read body: %v", err))
		return
	}
	if len(body) > maxConfigBody {
		httputil.WriteJSONError(w, http.StatusRequestEntityTooLarge, "configuration too large")
		return
	}

	cfg, err := config.Parse(body)
	if err == nil {
		var epoch uint64
		if epoch, err = s.store.Update(cfg); err == nil {
			monitoring.Logf("[api] configuration updated to epoch %d", epoch)
			httputil.WriteJSONOK(w, configResponse{Epoch: epoch, Config: cfg})
			return
		}
	}

	if fields := config.FieldErrors(err); len(fields) > 0 {
		httputil.WriteFieldErrors(w, "invalid configuration", fields)
		return
	}
	httputil.BadRequest(w, err.Error())
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.history == nil {
		httputil.NotFound(w, "history is disabled")
		return
	}
	limit, err := intParam(r, "limit", 100, 1, db.MaxHistoryLimit)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	records, err := s.history.RecentCycles(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to read history: %v", err))
		return
	}
	if records == nil {
		records = []db.CycleRecord{}
	}
	httputil.WriteJSONOK(w, records)
}

func (s *Server) listSerialPorts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	ports := []string{}
	if s.listPorts != nil {
		list, err := s.listPorts()
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to list serial ports: %v", err))
			return
		}
		ports = append(ports, list...)
	}
	cfg, _ := s.store.Snapshot()
	httputil.WriteJSONOK(w, struct {
		Configured string   `json:"configured"`
		Ports      []string `json:"ports"`
	}{cfg.Grid.Port, ports})
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, version.Current())
}

// intParam parses an optional integer query parameter bounded by [lo, hi].
func intParam(r *http.Request, name string, def, lo, hi int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("invalid '%s' parameter: must be between %d and %d", name, lo, hi)
	}
	return n, nil
}

// writeError maps errors from the chart builders onto responses.
func writeError(w http.ResponseWriter, err error) {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		httputil.WriteJSONError(w, reqErr.status, reqErr.msg)
		return
	}
	httputil.InternalServerError(w, err.Error())
}

type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...interface{}) error {
	return &requestError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...interface{}) error {
	return &requestError{status: http.StatusNotFound, msg: fmt.Sprintf(format, args...)}
}
