package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

type fakeFileStore struct {
	enabled    bool
	presignErr error
	presigned  string
}

func (f *fakeFileStore) IsEnabled() bool { return f.enabled }

func (f *fakeFileStore) VerifySignedKey(key, expires, signature string) bool {
	return signature == "good" && expires != ""
}

func (f *fakeFileStore) DownloadURL(_ context.Context, location string) (string, time.Time, error) {
	if f.presignErr != nil {
		return "", time.Time{}, f.presignErr
	}
	f.presigned = location
	return "https://bucket.example.com/" + location + "?X-Amz-Signature=x", time.Now().Add(time.Hour), nil
}

func serveFile(store FileStore, target string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Get("/api/v1/files/*", NewFileHandler(store, discardLogger).ServeFile)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestServeFile_MockResult(t *testing.T) {
	rec := serveFile(&fakeFileStore{}, "/api/v1/files/mock/gen-1.mp3?expires=1&sig=good")

	if rec.Code != http.StatusOK {
		t.Fatalf("Code = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("Content-Type = %q, want audio/wav", ct)
	}
	body := rec.Body.Bytes()
	if len(body) != len(silentWAV) || string(body[:4]) != "RIFF" || string(body[8:12]) != "WAVE" {
		t.Errorf("body is not the placeholder WAV (%d bytes)", len(body))
	}
}

func TestServeFile_RedirectsToStorage(t *testing.T) {
	store := &fakeFileStore{enabled: true}
	rec := serveFile(store, "/api/v1/files/results/gen-2.mp3?expires=1&sig=good")

	if rec.Code != http.StatusFound {
		t.Fatalf("Code = %d, want 302", rec.Code)
	}
	if store.presigned != "results/gen-2.mp3" {
		t.Errorf("presigned key = %q", store.presigned)
	}
	if loc := rec.Header().Get("Location"); loc == "" {
		t.Error("missing Location header")
	}
}

func TestServeFile_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		store  *fakeFileStore
		target string
		want   int
	}{
		{"bad signature", &fakeFileStore{enabled: true}, "/api/v1/files/results/a.mp3?expires=1&sig=bad", http.StatusForbidden},
		{"missing signature", &fakeFileStore{enabled: true}, "/api/v1/files/results/a.mp3", http.StatusForbidden},
		{"storage disabled", &fakeFileStore{}, "/api/v1/files/results/a.mp3?expires=1&sig=good", http.StatusNotFound},
		{"presign failure", &fakeFileStore{enabled: true, presignErr: errors.New("no credentials")}, "/api/v1/files/results/a.mp3?expires=1&sig=good", http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := serveFile(tt.store, tt.target); rec.Code != tt.want {
				t.Errorf("Code = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestSilentWAV_Header(t *testing.T) {
	if got := len(silentWAV); got != 44+8000 {
		t.Errorf("len = %d, want %d", got, 44+8000)
	}
}
