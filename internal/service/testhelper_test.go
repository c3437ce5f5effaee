package service

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/breaker"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/compute"
	appconfig "github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/config"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/database/migrations"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/models"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/payment"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupTestRepos creates repositories over a migrated in-memory database.
func setupTestRepos(t *testing.T) (*repository.Repositories, *sql.DB) {
	t.Helper()

	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}
	if _, err := migrations.Run(context.Background(), db, nil); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return repository.NewRepositories(db), db
}

// insertSample stores an audio sample with a file location.
func insertSample(t *testing.T, repos *repository.Repositories, id string, approved bool) {
	t.Helper()
	err := repos.Sample.Create(context.Background(), &models.AudioSample{
		ID:                 id,
		Title:              "Sample " + id,
		Approved:           approved,
		FileLocation:       "samples/" + id + ".wav",
		PricePersonalMinor: 0,
		CreatedAt:          time.Now(),
	})
	if err != nil {
		t.Fatalf("failed to insert sample: %v", err)
	}
}

// newTestRegistry returns a registry with default policies and a small volume threshold.
func newTestRegistry() *breaker.Registry {
	r := breaker.NewRegistry(breaker.NewMetrics())
	for name, p := range breaker.DefaultPolicies() {
		p.VolumeThreshold = 2
		r.Register(name, p)
	}
	return r
}

func newTestStorage(t *testing.T) *StorageService {
	t.Helper()
	svc, err := NewStorageService(&appconfig.Config{
		BaseURL:            "http://api.test",
		DownloadSigningKey: []byte("0123456789abcdef0123456789abcdef"),
		DownloadURLTTL:     time.Hour,
	}, testLogger())
	if err != nil {
		t.Fatalf("NewStorageService() error = %v", err)
	}
	return svc
}

// ----------------------------------------
// Fake compute backend
// ----------------------------------------

type fakeBackend struct {
	name string

	mu        sync.Mutex
	submitErr error
	block     bool
	submitted []compute.Job
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Submit(ctx context.Context, job compute.Job) (*compute.Submission, error) {
	f.mu.Lock()
	f.submitted = append(f.submitted, job)
	err, block := f.submitErr, f.block
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &compute.Submission{JobID: "job-" + job.GenerationID, EstimatedSeconds: 30}, nil
}

func (f *fakeBackend) Status(ctx context.Context, jobID string) (*compute.JobStatus, error) {
	return nil, compute.ErrJobNotFound
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

// ----------------------------------------
// Fake payment provider
// ----------------------------------------

// fakeProvider mimics Stripe status words so payment.Normalize maps them.
type fakeProvider struct {
	mu        sync.Mutex
	seq       int
	intents   map[string]*payment.Intent
	customers int
	refunds   int
	subs      map[string]*payment.Subscription
	// subCustomer is the customer id of the last created subscription.
	subCustomer string

	// confirmStatus is the status ConfirmIntent moves an intent to.
	confirmStatus string
	// err is returned by every call when set.
	err error
	// cancelErr is returned by CancelIntent when set.
	cancelErr error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		intents:       make(map[string]*payment.Intent),
		subs:          make(map[string]*payment.Subscription),
		confirmStatus: "succeeded",
	}
}

func (f *fakeProvider) Name() string { return payment.ProviderStripe }

func (f *fakeProvider) CreateCustomer(ctx context.Context, in payment.CustomerParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.customers++
	return fmt.Sprintf("cus_%d", f.customers), nil
}

func (f *fakeProvider) CreateIntent(ctx context.Context, in payment.IntentParams) (*payment.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.seq++
	pi := &payment.Intent{
		ID:             fmt.Sprintf("pi_%d", f.seq),
		Provider:       payment.ProviderStripe,
		AmountMinor:    in.AmountMinor,
		Currency:       in.Currency,
		ProviderStatus: "requires_payment_method",
		ClientSecret:   fmt.Sprintf("pi_%d_secret", f.seq),
	}
	f.intents[pi.ID] = pi
	out := *pi
	return &out, nil
}

func (f *fakeProvider) ConfirmIntent(ctx context.Context, intentID, methodRef string) (*payment.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	pi, ok := f.intents[intentID]
	if !ok {
		return nil, &payment.ProviderError{Provider: payment.ProviderStripe, StatusCode: http.StatusNotFound, Message: "no such intent"}
	}
	pi.ProviderStatus = f.confirmStatus
	if f.confirmStatus == "failed" {
		pi.FailureReason = "card_declined"
	}
	out := *pi
	return &out, nil
}

func (f *fakeProvider) CancelIntent(ctx context.Context, intentID, reason string) (*payment.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	pi, ok := f.intents[intentID]
	if !ok {
		return nil, &payment.ProviderError{Provider: payment.ProviderStripe, StatusCode: http.StatusNotFound, Message: "no such intent"}
	}
	pi.ProviderStatus = "canceled"
	out := *pi
	return &out, nil
}

// payable counts intents that were not canceled.
func (f *fakeProvider) payable() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, pi := range f.intents {
		if pi.ProviderStatus != "canceled" {
			n++
		}
	}
	return n
}

// succeeded counts intents that were charged.
func (f *fakeProvider) succeeded() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, pi := range f.intents {
		if pi.ProviderStatus == "succeeded" {
			n++
		}
	}
	return n
}

func (f *fakeProvider) Refund(ctx context.Context, in payment.RefundParams) (*payment.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.refunds++
	return &payment.Refund{
		ID:          fmt.Sprintf("re_%d", f.refunds),
		IntentID:    in.IntentID,
		AmountMinor: in.AmountMinor,
		Status:      "succeeded",
	}, nil
}

func (f *fakeProvider) CreateSubscription(ctx context.Context, in payment.SubscriptionParams) (*payment.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if in.PlanID == "price_unknown" {
		return nil, &payment.ProviderError{Provider: payment.ProviderStripe, StatusCode: http.StatusBadRequest, Message: "No such price"}
	}
	f.seq++
	start := time.Now().UTC().Truncate(time.Second)
	end := start.AddDate(0, 1, 0)
	sub := &payment.Subscription{
		ID:                 fmt.Sprintf("sub_%d", f.seq),
		Provider:           payment.ProviderStripe,
		PlanID:             in.PlanID,
		ProviderStatus:     "active",
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
		ClientSecret:       fmt.Sprintf("pi_sub_%d_secret", f.seq),
	}
	f.subs[sub.ID] = sub
	f.subCustomer = in.CustomerID
	out := *sub
	return &out, nil
}

func (f *fakeProvider) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (*payment.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	sub, ok := f.subs[subscriptionID]
	if !ok {
		return nil, &payment.ProviderError{Provider: payment.ProviderStripe, StatusCode: http.StatusNotFound, Message: "no such subscription"}
	}
	if atPeriodEnd {
		sub.CancelAtPeriodEnd = true
	} else {
		sub.ProviderStatus = "canceled"
	}
	out := *sub
	out.ClientSecret = ""
	return &out, nil
}

// ----------------------------------------
// Fake webhook verifier
// ----------------------------------------

// fakeVerifier returns the event registered for a payload; the header
// "X-Signature: bad" fails verification.
type fakeVerifier struct {
	events map[string]*payment.Event
}

func (f *fakeVerifier) ParseWebhook(payload []byte, header http.Header) (*payment.Event, error) {
	if header.Get("X-Signature") == "bad" {
		return nil, payment.ErrSignatureInvalid
	}
	ev, ok := f.events[string(payload)]
	if !ok {
		return nil, payment.ErrMalformedPayload
	}
	return ev, nil
}

// ----------------------------------------
// Fixture wiring
// ----------------------------------------

type paymentFixture struct {
	repos      *repository.Repositories
	provider   *fakeProvider
	breakers   *breaker.Registry
	settlement *Settlement
	payments   *PaymentOrchestrator
	licenses   *LicenseService
	webhooks   *WebhookReconciler
	verifier   *fakeVerifier
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	repos, _ := setupTestRepos(t)
	logger := testLogger()
	provider := newFakeProvider()
	breakers := newTestRegistry()
	settlement := NewSettlement(repos, logger)
	payments := NewPaymentOrchestrator(repos, breakers, settlement, logger, provider)
	verifier := &fakeVerifier{events: make(map[string]*payment.Event)}
	return &paymentFixture{
		repos:      repos,
		provider:   provider,
		breakers:   breakers,
		settlement: settlement,
		payments:   payments,
		licenses:   NewLicenseService(repos, payments, newTestStorage(t), logger),
		webhooks: NewWebhookReconciler(repos, settlement,
			map[string]payment.WebhookVerifier{payment.ProviderStripe: verifier}, logger),
		verifier: verifier,
	}
}

// completedGeneration stores a completed generation owned by userID.
func completedGeneration(t *testing.T, repos *repository.Repositories, userID string) *models.Generation {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	gen := &models.Generation{
		ID:              "gen-" + userID + "-" + fmt.Sprint(now.UnixNano()),
		UserID:          userID,
		Type:            models.GenerationTypeSoundLogo,
		Status:          models.GenerationStatusPending,
		Parameters:      []byte(`{"cultural_elements":["flute"]}`),
		SourceSampleIDs: []string{"s1"},
		Backend:         compute.BackendMock,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := repos.Generation.Create(ctx, gen); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repos.Generation.Transition(ctx, gen.ID, models.GenerationStatusPending, repository.GenerationUpdate{
		Status: models.GenerationStatusProcessing, JobID: "job-1",
	}); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if err := repos.Generation.Transition(ctx, gen.ID, models.GenerationStatusProcessing, repository.GenerationUpdate{
		Status: models.GenerationStatusCompleted, ResultLocation: "results/" + gen.ID + ".mp3",
	}); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	gen.Status = models.GenerationStatusCompleted
	gen.ResultLocation = "results/" + gen.ID + ".mp3"
	return gen
}
