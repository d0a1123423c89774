package remotehttp_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/relaybroker/relaybroker/pkg/tts/remotehttp"
)

func TestNewRejectsEmptyAPIKey(t *testing.T) {
	if _, err := remotehttp.New(""); err == nil {
		t.Fatal("expected an error for an empty API key")
	}
}

func TestListVoicesParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "secret" {
			t.Errorf("expected xi-api-key header, got %q", r.Header.Get("xi-api-key"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"voices": []map[string]string{
				{"voice_id": "v1", "name": "Rook"},
				{"voice_id": "v2", "name": "Pawn"},
			},
		})
	}))
	defer srv.Close()

	gen, err := remotehttp.New("secret", remotehttp.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	voices, err := gen.ListVoices(t.Context())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 || voices[0].ID != "v1" || voices[1].Name != "Pawn" {
		t.Fatalf("unexpected voices: %+v", voices)
	}
}

func TestListVoicesRejectsNonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	gen, err := remotehttp.New("secret", remotehttp.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := gen.ListVoices(t.Context()); err == nil {
		t.Fatal("expected an error for a non-200 response")
	}
}
