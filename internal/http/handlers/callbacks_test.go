package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	svix "github.com/svix/svix-webhooks/go"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/models"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/service"
)

const testCallbackSecret = "whsec_MfKQ9r8GKYqrTwjUPD8ILPZIo2LaLaSw"

type recordingReporter struct {
	reports []service.StatusReport
	err     error
}

func (r *recordingReporter) ReportStatus(_ context.Context, report service.StatusReport) error {
	r.reports = append(r.reports, report)
	return r.err
}

func signedCallback(t *testing.T, payload []byte) *http.Request {
	t.Helper()
	wh, err := svix.NewWebhook(testCallbackSecret)
	if err != nil {
		t.Fatalf("NewWebhook() error = %v", err)
	}
	now := time.Now()
	sig, err := wh.Sign("msg_1", now, payload)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/callbacks/compute", bytes.NewReader(payload))
	req.Header.Set("svix-id", "msg_1")
	req.Header.Set("svix-timestamp", strconv.FormatInt(now.Unix(), 10))
	req.Header.Set("svix-signature", sig)
	return req
}

func TestComputeCallback_Applied(t *testing.T) {
	reporter := &recordingReporter{}
	h, err := NewComputeCallbackHandler(reporter, testCallbackSecret, discardLogger)
	if err != nil {
		t.Fatalf("NewComputeCallbackHandler() error = %v", err)
	}

	payload := []byte(`{"generation_id":"gen-1","job_id":"job-1","status":"completed","result_url":"s3://results/gen-1.mp3"}`)
	rec := httptest.NewRecorder()
	h.HandleCallback(rec, signedCallback(t, payload))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("Code = %d, want 204 (body %s)", rec.Code, rec.Body.String())
	}
	if len(reporter.reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(reporter.reports))
	}
	got := reporter.reports[0]
	if got.GenerationID != "gen-1" || got.Status != models.GenerationStatusCompleted || got.ResultLocation != "s3://results/gen-1.mp3" {
		t.Errorf("report = %+v", got)
	}
}

func TestComputeCallback_BadSignature(t *testing.T) {
	reporter := &recordingReporter{}
	h, _ := NewComputeCallbackHandler(reporter, testCallbackSecret, discardLogger)

	req := signedCallback(t, []byte(`{"generation_id":"gen-1","status":"failed"}`))
	req.Header.Set("svix-signature", "v1,AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=")
	rec := httptest.NewRecorder()
	h.HandleCallback(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Code = %d, want 400", rec.Code)
	}
	if len(reporter.reports) != 0 {
		t.Error("unsigned report reached the reconciler")
	}
}

func TestComputeCallback_ReporterErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown generation", service.ErrNotFound, http.StatusNotFound},
		{"invalid report", &service.ValidationError{Field: "status", Message: "unknown"}, http.StatusBadRequest},
		{"contention", &service.ConflictError{Resource: "generation", ID: "gen-1"}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := NewComputeCallbackHandler(&recordingReporter{err: tt.err}, testCallbackSecret, discardLogger)
			rec := httptest.NewRecorder()
			h.HandleCallback(rec, signedCallback(t, []byte(`{"generation_id":"gen-1","status":"processing"}`)))
			if rec.Code != tt.want {
				t.Errorf("Code = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestComputeCallback_Disabled(t *testing.T) {
	h, err := NewComputeCallbackHandler(&recordingReporter{}, "", discardLogger)
	if err != nil {
		t.Fatalf("NewComputeCallbackHandler() error = %v", err)
	}
	rec := httptest.NewRecorder()
	h.HandleCallback(rec, httptest.NewRequest(http.MethodPost, "/api/v1/callbacks/compute", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Code = %d, want 404", rec.Code)
	}
}
