package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/Zereker/keepalive"
)

type fakeClient struct {
	mu    sync.Mutex
	state keepalive.State
	err   error
	sent  []string
}

func (f *fakeClient) SendBusinessMessage(content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if err := keepalive.NewMessage(keepalive.NormalRequest, content).Validate(); err != nil {
		return "", err
	}
	f.sent = append(f.sent, content)
	return "id-1", nil
}

func (f *fakeClient) State() keepalive.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeClient) LastActivity() time.Time { return time.Unix(1700000000, 0) }
func (f *fakeClient) Addr() string            { return "127.0.0.1:8088" }

func newTestRouter(client Client) http.Handler {
	return NewRouter(client, prometheus.NewRegistry(), zerolog.Nop())
}

func TestSendDefaultContent(t *testing.T) {
	client := &fakeClient{state: keepalive.Connected}
	router := newTestRouter(client)

	req := httptest.NewRequest(http.MethodGet, "/send", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var resp sendResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.CorrelationID != "id-1" {
		t.Fatalf("unexpected correlation id: %q", resp.CorrelationID)
	}
	if len(client.sent) != 1 || client.sent[0] != DefaultContent {
		t.Fatalf("unexpected sent content: %v", client.sent)
	}
}

func TestSendContentSources(t *testing.T) {
	tests := []struct {
		name string
		req  *http.Request
		want string
	}{
		{"query", httptest.NewRequest(http.MethodGet, "/send?content=ping", nil), "ping"},
		{"body", httptest.NewRequest(http.MethodPost, "/send", strings.NewReader("  from body \n")), "from body"},
		{"query wins", httptest.NewRequest(http.MethodPost, "/send?content=q", strings.NewReader("b")), "q"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{state: keepalive.Connected}
			rec := httptest.NewRecorder()
			newTestRouter(client).ServeHTTP(rec, tt.req)

			if rec.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", rec.Code)
			}
			if len(client.sent) != 1 || client.sent[0] != tt.want {
				t.Fatalf("sent %v, want %q", client.sent, tt.want)
			}
		})
	}
}

func TestSendBodyTooLarge(t *testing.T) {
	client := &fakeClient{state: keepalive.Connected}
	body := strings.NewReader(strings.Repeat("x", maxBodyBytes+1))
	rec := httptest.NewRecorder()
	newTestRouter(client).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/send", body))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413, got %d", rec.Code)
	}
	if len(client.sent) != 0 {
		t.Fatalf("nothing should be sent, got %v", client.sent)
	}
}

func TestSendInvalidUTF8(t *testing.T) {
	tests := []struct {
		name string
		req  *http.Request
	}{
		{"body", httptest.NewRequest(http.MethodPost, "/send", strings.NewReader("bin\xff\xfe"))},
		{"query", httptest.NewRequest(http.MethodGet, "/send?content=%FF", nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{state: keepalive.Connected}
			rec := httptest.NewRecorder()
			newTestRouter(client).ServeHTTP(rec, tt.req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", rec.Code)
			}
			if len(client.sent) != 0 {
				t.Fatalf("nothing should be sent, got %q", client.sent)
			}
		})
	}
}

func TestSendErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not connected", keepalive.ErrNotConnected, http.StatusServiceUnavailable},
		{"send failed", keepalive.ErrSendFailed, http.StatusServiceUnavailable},
		{"malformed", keepalive.ErrMalformedMessage, http.StatusBadRequest},
		{"too large", keepalive.ErrMessageTooLarge, http.StatusRequestEntityTooLarge},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{err: tt.err}
			rec := httptest.NewRecorder()
			newTestRouter(client).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/send", nil))

			if rec.Code != tt.want {
				t.Fatalf("expected status %d, got %d", tt.want, rec.Code)
			}
			var resp errorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Error == "" {
				t.Fatal("expected an error message")
			}
		})
	}
}

func TestStatus(t *testing.T) {
	client := &fakeClient{state: keepalive.Connecting}
	rec := httptest.NewRecorder()
	newTestRouter(client).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.State != "connecting" {
		t.Fatalf("unexpected state: %q", resp.State)
	}
	if resp.Addr != "127.0.0.1:8088" {
		t.Fatalf("unexpected addr: %q", resp.Addr)
	}
	if !resp.LastActivity.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("unexpected last activity: %v", resp.LastActivity)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := keepalive.NewMetrics()
	if err := metrics.Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}

	router := NewRouter(&fakeClient{}, reg, zerolog.Nop())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "keepalive_client_state") {
		t.Fatalf("expected keepalive metrics, got %q", rec.Body.String())
	}
}

func TestUnknownRoute(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(&fakeClient{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func TestMetricsRouter(t *testing.T) {
	router := NewMetricsRouter(prometheus.NewRegistry(), zerolog.Nop())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/send", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 without a client, got %d", rec.Code)
	}
}
