package caption

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/teslashibe/go-caption/internal/log"
)

func TestClientCaption(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/caption" {
			t.Errorf("Expected /api/caption, got %s", r.URL.Path)
		}
		if r.Method != "POST" {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Expected application/json, got %s", ct)
		}

		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Prompt != "Describe the scene" {
			t.Errorf("Unexpected prompt: %q", req.Prompt)
		}
		if req.ImageData != "aGVsbG8=" {
			t.Errorf("Unexpected image data: %q", req.ImageData)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Response{Caption: "A cat on a chair."})
	}))
	defer server.Close()

	client, err := NewClient(server.URL+"/", WithLogger(log.Discard()))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	resp, err := client.Caption(context.Background(), &Request{
		ImageData: EncodeImage([]byte("hello")),
		Prompt:    "Describe the scene",
	})
	if err != nil {
		t.Fatalf("Caption failed: %v", err)
	}
	if resp.Caption != "A cat on a chair." {
		t.Errorf("Unexpected caption: %q", resp.Caption)
	}
}

func TestClientHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(Response{Error: "model unavailable"})
	}))
	defer server.Close()

	client, _ := NewClient(server.URL, WithLogger(log.Discard()))
	_, err := client.Caption(context.Background(), &Request{ImageData: "x", Prompt: "p"})

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("Expected TransportError, got %v", err)
	}
	if te.Kind != HTTPStatus || te.StatusCode != 500 {
		t.Errorf("Unexpected error: %+v", te)
	}
	if te.Reason() != "model unavailable" {
		t.Errorf("Expected server error field, got %q", te.Reason())
	}
	if !te.IsServerError() {
		t.Error("Expected IsServerError")
	}
}

func TestClientHTTPErrorWithoutBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer server.Close()

	client, _ := NewClient(server.URL, WithLogger(log.Discard()))
	_, err := client.Caption(context.Background(), &Request{ImageData: "x", Prompt: "p"})

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("Expected TransportError, got %v", err)
	}
	if te.Reason() != "Server error: 502" {
		t.Errorf("Expected status fallback, got %q", te.Reason())
	}
}

func TestClientMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	}))
	defer server.Close()

	client, _ := NewClient(server.URL, WithLogger(log.Discard()))
	_, err := client.Caption(context.Background(), &Request{ImageData: "x", Prompt: "p"})

	var te *TransportError
	if !errors.As(err, &te) || te.Kind != MalformedResponse {
		t.Fatalf("Expected MalformedResponse, got %v", err)
	}
}

func TestClientNetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client, _ := NewClient(url, WithLogger(log.Discard()))
	_, err := client.Caption(context.Background(), &Request{ImageData: "x", Prompt: "p"})

	var te *TransportError
	if !errors.As(err, &te) || te.Kind != NetworkFailure {
		t.Fatalf("Expected NetworkFailure, got %v", err)
	}
	if te.Unwrap() == nil {
		t.Error("NetworkFailure should carry the cause")
	}
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	if _, err := NewClient("  "); !errors.Is(err, ErrNoEndpoint) {
		t.Errorf("Expected ErrNoEndpoint, got %v", err)
	}
}

func TestStripDataURI(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"data:image/jpeg;base64,QUJD", "QUJD"},
		{"QUJD", "QUJD"},
		{"data:image/jpeg;base64", ""},
	}
	for _, tc := range tests {
		if got := StripDataURI(tc.in); got != tc.want {
			t.Errorf("StripDataURI(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	data, err := DecodeImage("data:image/jpeg;base64,QUJD")
	if err != nil || string(data) != "ABC" {
		t.Errorf("DecodeImage = %q, %v", data, err)
	}
}
