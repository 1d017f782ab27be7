// Package httpapi exposes the client over HTTP: /send triggers a business
// request, /status reports the link and /metrics serves Prometheus.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Zereker/keepalive"
)

// DefaultContent is sent when a /send request carries no content.
const DefaultContent = "hello netty"

const maxBodyBytes = 64 << 10

// Client is the part of *keepalive.Client the API needs.
type Client interface {
	SendBusinessMessage(content string) (string, error)
	State() keepalive.State
	LastActivity() time.Time
	Addr() string
}

type sendResponse struct {
	CorrelationID string `json:"correlationId"`
}

type statusResponse struct {
	State        string    `json:"state"`
	Addr         string    `json:"addr"`
	LastActivity time.Time `json:"lastActivity"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type api struct {
	client Client
	logger zerolog.Logger
}

// NewRouter returns the HTTP handler. gatherer backs /metrics; nil uses
// the default Prometheus registry.
func NewRouter(client Client, gatherer prometheus.Gatherer, logger zerolog.Logger) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	a := &api{client: client, logger: logger}

	r := newRouter(gatherer, logger)
	r.Get("/send", a.send)
	r.Post("/send", a.send)
	r.Get("/status", a.status)
	return r
}

// NewMetricsRouter returns a handler serving only /metrics, for processes
// without a client.
func NewMetricsRouter(gatherer prometheus.Gatherer, logger zerolog.Logger) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return newRouter(gatherer, logger)
}

func newRouter(gatherer prometheus.Gatherer, logger zerolog.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

// send takes content from the "content" query parameter or, failing that,
// the request body.
func (a *api) send(w http.ResponseWriter, r *http.Request) {
	content := r.URL.Query().Get("content")
	if content == "" && r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		if len(body) > maxBodyBytes {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "body too large"})
			return
		}
		content = strings.TrimSpace(string(body))
	}
	if content == "" {
		content = DefaultContent
	}

	id, err := a.client.SendBusinessMessage(content)
	if err != nil {
		status := sendErrorStatus(err)
		a.logger.Warn().Err(err).Str("state", a.client.State().String()).Msg("send failed")
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, sendResponse{CorrelationID: id})
}

// sendErrorStatus separates content the protocol cannot carry from a link
// that is down.
func sendErrorStatus(err error) int {
	switch {
	case errors.Is(err, keepalive.ErrMalformedMessage):
		return http.StatusBadRequest
	case errors.Is(err, keepalive.ErrMessageTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, keepalive.ErrNotConnected), errors.Is(err, keepalive.ErrSendFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *api) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		State:        a.client.State().String(),
		Addr:         a.client.Addr(),
		LastActivity: a.client.LastActivity().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			event := logger.Debug()
			if status >= 500 {
				event = logger.Error()
			} else if status >= 400 {
				event = logger.Warn()
			}

			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Int("bytes", ww.BytesWritten()).
				Msg("http_request")
		})
	}
}
