package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-caption/internal/log"
	"github.com/teslashibe/go-caption/pkg/archive"
	"github.com/teslashibe/go-caption/pkg/caption"
	"github.com/teslashibe/go-caption/pkg/metrics"
	"github.com/teslashibe/go-caption/pkg/ollama"
)

// fakeBackend answers Describe with a fixed caption or error.
type fakeBackend struct {
	mu      sync.Mutex
	caption string
	err     error
	prompts []string
	images  []string
	pingErr error
}

func (f *fakeBackend) Describe(ctx context.Context, prompt, image string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	f.images = append(f.images, image)
	return f.caption, f.err
}

func (f *fakeBackend) URL() string   { return "http://ollama.test/api/generate" }
func (f *fakeBackend) Model() string { return "gemma3:4b" }

func (f *fakeBackend) Ping(ctx context.Context) error { return f.pingErr }

func newTestServer(t *testing.T, backend Describer) (*Server, *archive.Archive) {
	t.Helper()
	dir := t.TempDir()
	arc, err := archive.New(filepath.Join(dir, "saved_images"), filepath.Join(dir, "saved_captions", "caption_history.txt"))
	if err != nil {
		t.Fatalf("archive.New failed: %v", err)
	}
	s, err := New(Config{
		Addr:     ":0",
		Backend:  backend,
		Archive:  arc,
		Registry: metrics.NewRegistry(),
		Logger:   log.Discard(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s, arc
}

func postCaption(t *testing.T, s *Server, contentType, body string) (int, caption.Response) {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/caption", strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := s.App().Test(req)
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	defer resp.Body.Close()

	var out caption.Response
	data, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return resp.StatusCode, out
}

func TestCaptionSuccess(t *testing.T) {
	backend := &fakeBackend{caption: "A cat on a chair."}
	s, arc := newTestServer(t, backend)

	code, out := postCaption(t, s, "application/json", `{"image_data":"/9j/AA==","prompt":"  Describe the scene "}`)
	if code != 200 || out.Caption != "A cat on a chair." {
		t.Fatalf("Unexpected response %d %+v", code, out)
	}
	if backend.prompts[0] != "Describe the scene" || backend.images[0] != "/9j/AA==" {
		t.Errorf("Unexpected backend call %q %q", backend.prompts[0], backend.images[0])
	}

	frames, _ := os.ReadDir(arc.ImagesDir())
	if len(frames) != 1 || !strings.HasPrefix(frames[0].Name(), "frame_") {
		t.Fatalf("Expected one saved frame, got %v", frames)
	}

	history, err := os.ReadFile(arc.HistoryPath())
	if err != nil {
		t.Fatalf("history not written: %v", err)
	}
	for _, want := range []string{"Q: Describe the scene\n", "A: A cat on a chair.\n", "Image: " + frames[0].Name() + "\n"} {
		if !strings.Contains(string(history), want) {
			t.Errorf("history missing %q:\n%s", want, history)
		}
	}

	recent := s.Feed().Recent()
	if len(recent) != 1 || recent[0].Caption != "A cat on a chair." || recent[0].ID == "" {
		t.Errorf("Unexpected feed %+v", recent)
	}
}

func TestCaptionDefaultPrompt(t *testing.T) {
	backend := &fakeBackend{caption: "ok"}
	s, _ := newTestServer(t, backend)

	code, _ := postCaption(t, s, "application/json", `{"image_data":"data:image/jpeg;base64,QUJD"}`)
	if code != 200 {
		t.Fatalf("Status = %d", code)
	}
	if backend.prompts[0] != DefaultPrompt {
		t.Errorf("prompt = %q", backend.prompts[0])
	}
	if backend.images[0] != "QUJD" {
		t.Errorf("data URI prefix should be stripped, got %q", backend.images[0])
	}
}

func TestCaptionValidation(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		wantCode    int
		wantError   string
	}{
		{"not json", "text/plain", `{}`, 415, "Invalid request: Content-Type must be application/json"},
		{"no content type", "", `{}`, 415, "Invalid request: Content-Type must be application/json"},
		{"bad json", "application/json", `{`, 400, "Invalid JSON body"},
		{"missing image", "application/json", `{"prompt":"hi"}`, 400, "No image data provided"},
		{"blank prompt", "application/json", `{"image_data":"QUJD","prompt":"   "}`, 400, "Prompt is required"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			backend := &fakeBackend{caption: "unused"}
			s, _ := newTestServer(t, backend)

			code, out := postCaption(t, s, tc.contentType, tc.body)
			if code != tc.wantCode || out.Error != tc.wantError {
				t.Errorf("got %d %q, want %d %q", code, out.Error, tc.wantCode, tc.wantError)
			}
			if len(backend.prompts) != 0 {
				t.Error("backend should not be called")
			}
		})
	}
}

func TestCaptionNormalized(t *testing.T) {
	tests := map[string]string{
		"":                                 CaptionEmpty,
		"   ":                              CaptionEmpty,
		"Sorry, I can't see anything.":     CaptionRefused,
		"I am unable to describe this.":    CaptionRefused,
		"  A bright kitchen with a sink. ": "A bright kitchen with a sink.",
	}
	for raw, want := range tests {
		if got := NormalizeCaption(raw); got != want {
			t.Errorf("NormalizeCaption(%q) = %q, want %q", raw, got, want)
		}
	}

	s, _ := newTestServer(t, &fakeBackend{caption: ""})
	if _, out := postCaption(t, s, "application/json", `{"image_data":"QUJD"}`); out.Caption != CaptionEmpty {
		t.Errorf("Expected empty replacement, got %q", out.Caption)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestCaptionBackendErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  int
		wantError string
	}{
		{"timeout", fmt.Errorf("ollama: %w", timeoutErr{}), 504, "The request to the Ollama server timed out."},
		{"deadline", context.DeadlineExceeded, 504, "The request to the Ollama server timed out."},
		{"api error", &ollama.APIError{StatusCode: 404, Message: "model 'gemma3:4b' not found"}, 404, "Ollama API error: model 'gemma3:4b' not found"},
		{"unexpected", errors.New("boom"), 500, "An unexpected server error occurred: boom"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, arc := newTestServer(t, &fakeBackend{err: tc.err})

			code, out := postCaption(t, s, "application/json", `{"image_data":"QUJD","prompt":"p"}`)
			if code != tc.wantCode || out.Error != tc.wantError {
				t.Errorf("got %d %q, want %d %q", code, out.Error, tc.wantCode, tc.wantError)
			}
			if _, err := os.Stat(arc.HistoryPath()); !os.IsNotExist(err) {
				t.Error("failed requests must not append history")
			}
		})
	}
}

func TestCaptionWithOllamaUnreachable(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := dead.URL
	dead.Close()

	client, _ := ollama.NewClient(url, ollama.WithLogger(log.Discard()))
	s, _ := newTestServer(t, client)

	code, out := postCaption(t, s, "application/json", `{"image_data":"QUJD","prompt":"p"}`)
	if code != 503 {
		t.Errorf("Status = %d, want 503", code)
	}
	if out.Error != "Could not connect to Ollama server at "+url+"/api/generate." {
		t.Errorf("Unexpected error %q", out.Error)
	}
}

func TestCaptionWithOllama(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollama.GenerateResponse{Response: "A window at dusk.", Done: true})
	}))
	defer upstream.Close()

	client, _ := ollama.NewClient(upstream.URL, ollama.WithLogger(log.Discard()))
	s, _ := newTestServer(t, client)

	code, out := postCaption(t, s, "application/json", `{"image_data":"QUJD","prompt":"p"}`)
	if code != 200 || out.Caption != "A window at dusk." {
		t.Errorf("Unexpected response %d %+v", code, out)
	}
}

func TestHealth(t *testing.T) {
	backend := &fakeBackend{}
	s, _ := newTestServer(t, backend)

	resp, err := s.App().Test(httptest.NewRequest("GET", "/api/health", nil))
	if err != nil || resp.StatusCode != 200 {
		t.Fatalf("health failed: %v %d", err, resp.StatusCode)
	}

	backend.pingErr = errors.New("connection refused")
	resp, _ = s.App().Test(httptest.NewRequest("GET", "/api/health", nil))
	if resp.StatusCode != 503 {
		t.Errorf("Status = %d, want 503 when backend is down", resp.StatusCode)
	}
}

func TestHistoryAndMetrics(t *testing.T) {
	s, _ := newTestServer(t, &fakeBackend{caption: "x"})
	postCaption(t, s, "application/json", `{"image_data":"QUJD"}`)

	resp, _ := s.App().Test(httptest.NewRequest("GET", "/api/history", nil))
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"caption":"x"`) {
		t.Errorf("history missing caption: %s", body)
	}

	resp, _ = s.App().Test(httptest.NewRequest("GET", "/metrics", nil))
	body, _ = io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "caption_server_requests_total") {
		t.Error("metrics missing request counter")
	}
}

func TestCaptionFeedWebSocket(t *testing.T) {
	s, _ := newTestServer(t, &fakeBackend{caption: "A lamp."})
	s.Feed().Publish(CaptionEvent{Prompt: "earlier", Caption: "A chair."})

	go s.App().Listen(":18092")
	defer s.Shutdown()
	time.Sleep(100 * time.Millisecond)

	ws, _, err := websocket.DefaultDialer.Dial("ws://localhost:18092/ws/captions", nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))

	var backlog CaptionEvent
	if err := ws.ReadJSON(&backlog); err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if backlog.Caption != "A chair." {
		t.Errorf("Expected replayed event, got %+v", backlog)
	}

	time.Sleep(50 * time.Millisecond)
	if s.Feed().Stats().Subscribers != 1 {
		t.Errorf("Subscribers = %d, want 1", s.Feed().Stats().Subscribers)
	}

	postCaption(t, s, "application/json", `{"image_data":"QUJD","prompt":"What now?"}`)

	var live CaptionEvent
	if err := ws.ReadJSON(&live); err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if live.Caption != "A lamp." || live.Prompt != "What now?" {
		t.Errorf("Unexpected live event %+v", live)
	}
}
