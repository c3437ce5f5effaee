package handlers

import (
	"bytes"
	"context"
	"encoding/binary"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// FileStore resolves signed download links.
type FileStore interface {
	IsEnabled() bool
	VerifySignedKey(key, expires, signature string) bool
	DownloadURL(ctx context.Context, location string) (string, time.Time, error)
}

// mockKeyPrefix marks results produced by the in-process mock backend.
const mockKeyPrefix = "mock/"

// FileHandler serves GET /api/v1/files/*: links minted by the license
// download flow when results are not on S3 directly.
type FileHandler struct {
	store  FileStore
	logger *slog.Logger
}

// NewFileHandler creates a new file handler.
func NewFileHandler(store FileStore, logger *slog.Logger) *FileHandler {
	return &FileHandler{store: store, logger: logger.With("component", "file_handler")}
}

// ServeFile checks the link signature, then serves the mock placeholder or
// redirects to a presigned object URL.
func (h *FileHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	q := r.URL.Query()
	if key == "" || !h.store.VerifySignedKey(key, q.Get("expires"), q.Get("sig")) {
		writeError(w, http.StatusForbidden, "invalid or expired link")
		return
	}

	switch {
	case strings.HasPrefix(key, mockKeyPrefix):
		w.Header().Set("Content-Type", "audio/wav")
		w.Header().Set("Content-Disposition", `attachment; filename="`+fileName(key)+`"`)
		http.ServeContent(w, r, fileName(key), time.Time{}, bytes.NewReader(silentWAV))
	case h.store.IsEnabled():
		target, _, err := h.store.DownloadURL(r.Context(), key)
		if err != nil {
			h.logger.Error("failed to presign download", "key", key, "error", err)
			writeError(w, http.StatusBadGateway, msgUpstreamFailed)
			return
		}
		http.Redirect(w, r, target, http.StatusFound)
	default:
		writeError(w, http.StatusNotFound, "file not found")
	}
}

func fileName(key string) string {
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}

// silentWAV is one second of 8 kHz 8-bit mono silence.
var silentWAV = func() []byte {
	const (
		sampleRate = 8000
		dataSize   = sampleRate
	)
	var b bytes.Buffer
	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, uint32(36+dataSize))
	b.WriteString("WAVEfmt ")
	_ = binary.Write(&b, binary.LittleEndian, uint32(16))         // fmt chunk size
	_ = binary.Write(&b, binary.LittleEndian, uint16(1))          // PCM
	_ = binary.Write(&b, binary.LittleEndian, uint16(1))          // channels
	_ = binary.Write(&b, binary.LittleEndian, uint32(sampleRate)) // sample rate
	_ = binary.Write(&b, binary.LittleEndian, uint32(sampleRate)) // byte rate
	_ = binary.Write(&b, binary.LittleEndian, uint16(1))          // block align
	_ = binary.Write(&b, binary.LittleEndian, uint16(8))          // bits per sample
	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, uint32(dataSize))
	b.Write(bytes.Repeat([]byte{0x80}, dataSize))
	return b.Bytes()
}()
