package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/database"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/models"
)

// ========================================
// Payment Intent Mirror Tests
// ========================================

func TestPaymentIntentRepository_UpsertCreatesOnMiss(t *testing.T) {
	repos, _ := setupTestRepos(t)
	ctx := context.Background()

	stored, err := repos.PaymentIntent.Upsert(ctx, &models.PaymentIntent{
		ID:             "pi_1",
		Provider:       "stripe",
		UserID:         "user_1",
		AmountMinor:    1999,
		Currency:       "usd",
		Status:         models.IntentStatusSucceeded,
		ProviderStatus: "succeeded",
		LicenseID:      "lic_1",
	})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if stored.Status != models.IntentStatusSucceeded {
		t.Errorf("Status = %s, want succeeded", stored.Status)
	}

	got, err := repos.PaymentIntent.GetByID(ctx, "pi_1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got == nil || got.AmountMinor != 1999 || got.LicenseID != "lic_1" {
		t.Fatalf("GetByID() = %+v", got)
	}
}

func TestPaymentIntentRepository_StaleStatusIgnored(t *testing.T) {
	repos, _ := setupTestRepos(t)
	ctx := context.Background()

	base := models.PaymentIntent{ID: "pi_2", Provider: "stripe", UserID: "user_1", AmountMinor: 500, Currency: "usd"}

	first := base
	first.Status = models.IntentStatusPending
	first.ProviderStatus = "requires_payment_method"
	first.LicenseID = "lic_2"
	if _, err := repos.PaymentIntent.Upsert(ctx, &first); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	done := base
	done.Status = models.IntentStatusSucceeded
	done.ProviderStatus = "succeeded"
	if _, err := repos.PaymentIntent.Upsert(ctx, &done); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	// A late non-terminal report must not move the mirror backwards.
	late := base
	late.Status = models.IntentStatusProcessing
	late.ProviderStatus = "processing"
	stored, err := repos.PaymentIntent.Upsert(ctx, &late)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if stored.Status != models.IntentStatusSucceeded || stored.ProviderStatus != "succeeded" {
		t.Errorf("stored = %s/%s, want succeeded/succeeded", stored.Status, stored.ProviderStatus)
	}
	if stored.LicenseID != "lic_2" {
		t.Errorf("LicenseID = %q, want lic_2 kept from first write", stored.LicenseID)
	}

	got, _ := repos.PaymentIntent.GetByID(ctx, "pi_2")
	if got.Status != models.IntentStatusSucceeded {
		t.Errorf("persisted Status = %s, want succeeded", got.Status)
	}
}

func TestPaymentIntentRepository_GetByID_NotFound(t *testing.T) {
	repos, _ := setupTestRepos(t)

	got, err := repos.PaymentIntent.GetByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got != nil {
		t.Error("expected nil for missing intent")
	}
}

// ========================================
// Refund / Dispute Tests
// ========================================

func TestRefundRepository_CreateIsIdempotent(t *testing.T) {
	repos, _ := setupTestRepos(t)
	ctx := context.Background()

	if _, err := repos.PaymentIntent.Upsert(ctx, &models.PaymentIntent{
		ID: "pi_3", Provider: "stripe", UserID: "user_1", AmountMinor: 1000, Currency: "usd",
		Status: models.IntentStatusSucceeded,
	}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	ref := &models.Refund{
		ID: "re_1", PaymentIntentID: "pi_3", Provider: "stripe", AmountMinor: 1000,
		Currency: "usd", Status: "pending", CreatedAt: time.Now(),
	}
	if err := repos.Refund.Create(ctx, ref); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	ref.Status = "succeeded"
	if err := repos.Refund.Create(ctx, ref); err != nil {
		t.Fatalf("Create() again error = %v", err)
	}

	refunds, err := repos.Refund.GetByPaymentIntentID(ctx, "pi_3")
	if err != nil {
		t.Fatalf("GetByPaymentIntentID() error = %v", err)
	}
	if len(refunds) != 1 || refunds[0].Status != "succeeded" {
		t.Errorf("refunds = %+v, want one succeeded refund", refunds)
	}
}

func TestDisputeRepository_CreateIgnoresDuplicates(t *testing.T) {
	repos, _ := setupTestRepos(t)
	ctx := context.Background()

	d := &models.Dispute{
		ID: "dp_1", Provider: "stripe", PaymentIntentID: "pi_9", AmountMinor: 700,
		Currency: "usd", Reason: "fraudulent", Status: "needs_response", CreatedAt: time.Now(),
	}
	for i := 0; i < 2; i++ {
		if err := repos.Dispute.Create(ctx, d); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	disputes, err := repos.Dispute.List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(disputes) != 1 || disputes[0].Reason != "fraudulent" {
		t.Errorf("disputes = %+v, want one", disputes)
	}
}

// ========================================
// Subscription / User Tests
// ========================================

func TestSubscriptionRepository_Upsert(t *testing.T) {
	repos, _ := setupTestRepos(t)
	ctx := context.Background()

	start := time.Now().Truncate(time.Second)
	end := start.AddDate(0, 1, 0)
	sub := &models.Subscription{
		ID: "sub_1", Provider: "stripe", UserID: "user_1",
		Status: models.SubscriptionStatusActive, ProviderStatus: "active",
		CurrentPeriodStart: &start, CurrentPeriodEnd: &end,
	}
	if err := repos.Subscription.Upsert(ctx, sub); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	// Deletion events carry no period; the stored bounds stay.
	if err := repos.Subscription.Upsert(ctx, &models.Subscription{
		ID: "sub_1", Provider: "stripe", Status: models.SubscriptionStatusCanceled, ProviderStatus: "canceled",
	}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err := repos.Subscription.GetByID(ctx, "sub_1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != models.SubscriptionStatusCanceled {
		t.Errorf("Status = %s, want canceled", got.Status)
	}
	if got.UserID != "user_1" {
		t.Errorf("UserID = %q, want user_1", got.UserID)
	}
	if got.CurrentPeriodEnd == nil || !got.CurrentPeriodEnd.Equal(end) {
		t.Errorf("CurrentPeriodEnd = %v, want %v", got.CurrentPeriodEnd, end)
	}
}

func TestSubscriptionRepository_ListAndAccess(t *testing.T) {
	repos, _ := setupTestRepos(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	subs := []*models.Subscription{
		{ID: "sub_old", Provider: "stripe", UserID: "user_1", PlanID: "price_basic",
			Status: models.SubscriptionStatusCanceled, ProviderStatus: "canceled", CreatedAt: base},
		{ID: "sub_new", Provider: "razorpay", UserID: "user_1", PlanID: "plan_pro",
			Status: models.SubscriptionStatusPastDue, ProviderStatus: "halted", CreatedAt: base.Add(time.Minute)},
		{ID: "sub_other", Provider: "stripe", UserID: "user_2",
			Status: models.SubscriptionStatusActive, ProviderStatus: "active", CreatedAt: base},
	}
	for _, sub := range subs {
		if err := repos.Subscription.Upsert(ctx, sub); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}

	got, err := repos.Subscription.GetByUserID(ctx, "user_1", 10, 0)
	if err != nil {
		t.Fatalf("GetByUserID() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "sub_new" || got[1].ID != "sub_old" {
		t.Fatalf("GetByUserID() = %+v, want sub_new then sub_old", got)
	}
	if got[0].PlanID != "plan_pro" {
		t.Errorf("PlanID = %q, want plan_pro", got[0].PlanID)
	}

	// A webhook without a plan keeps the stored one.
	if err := repos.Subscription.Upsert(ctx, &models.Subscription{
		ID: "sub_new", Provider: "razorpay", Status: models.SubscriptionStatusActive, ProviderStatus: "active",
	}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	again, _ := repos.Subscription.GetByID(ctx, "sub_new")
	if again.PlanID != "plan_pro" {
		t.Errorf("PlanID after plan-less update = %q, want plan_pro", again.PlanID)
	}

	ok, err := repos.Subscription.HasAccess(ctx, "user_1", models.SubscriptionStatusActive, models.SubscriptionStatusTrialing)
	if err != nil {
		t.Fatalf("HasAccess() error = %v", err)
	}
	if !ok {
		t.Error("HasAccess() = false, want true after sub_new became active")
	}
	if ok, _ := repos.Subscription.HasAccess(ctx, "user_3", models.SubscriptionStatusActive); ok {
		t.Error("HasAccess() for a user without subscriptions = true")
	}
}

func TestPaymentIntentRepository_GetByUserID(t *testing.T) {
	repos, _ := setupTestRepos(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"pi_a", "pi_b", "pi_c"} {
		if _, err := repos.PaymentIntent.Upsert(ctx, &models.PaymentIntent{
			ID: id, Provider: "stripe", UserID: "user_1", AmountMinor: 100, Currency: "usd",
			Status: models.IntentStatusPending, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}
	if _, err := repos.PaymentIntent.Upsert(ctx, &models.PaymentIntent{
		ID: "pi_x", Provider: "stripe", UserID: "user_2", AmountMinor: 100, Currency: "usd",
		Status: models.IntentStatusPending,
	}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err := repos.PaymentIntent.GetByUserID(ctx, "user_1", 2, 0)
	if err != nil {
		t.Fatalf("GetByUserID() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "pi_c" || got[1].ID != "pi_b" {
		t.Fatalf("GetByUserID() = %+v, want pi_c then pi_b", got)
	}
	rest, _ := repos.PaymentIntent.GetByUserID(ctx, "user_1", 2, 2)
	if len(rest) != 1 || rest[0].ID != "pi_a" {
		t.Errorf("second page = %+v, want pi_a", rest)
	}
}

func TestUserRepository_SubscriptionFlag(t *testing.T) {
	repos, _ := setupTestRepos(t)
	ctx := context.Background()

	// The flag can be set before the user has called the API.
	if err := repos.User.SetSubscriptionActive(ctx, "user_1", true); err != nil {
		t.Fatalf("SetSubscriptionActive() error = %v", err)
	}
	if err := repos.User.Ensure(ctx, "user_1", "a@example.com"); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if err := repos.User.SetCustomerID(ctx, "user_1", "stripe", "cus_1"); err != nil {
		t.Fatalf("SetCustomerID() error = %v", err)
	}

	u, err := repos.User.GetByID(ctx, "user_1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if !u.SubscriptionActive || u.Email != "a@example.com" || u.StripeCustomerID != "cus_1" {
		t.Errorf("user = %+v", u)
	}

	if err := repos.User.SetSubscriptionActive(ctx, "user_1", false); err != nil {
		t.Fatalf("SetSubscriptionActive() error = %v", err)
	}
	u, _ = repos.User.GetByID(ctx, "user_1")
	if u.SubscriptionActive {
		t.Error("SubscriptionActive = true after revoke")
	}

	if err := repos.User.SetCustomerID(ctx, "user_1", "paypal", "x"); err == nil {
		t.Error("SetCustomerID() with unknown provider should fail")
	}
}

// ========================================
// Webhook Event Tests
// ========================================

func TestWebhookEventRepository_Record(t *testing.T) {
	repos, _ := setupTestRepos(t)
	ctx := context.Background()

	ev, err := repos.WebhookEvent.Record(ctx, "stripe", "evt_1", "payment_intent.succeeded")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if ev.Status != models.WebhookEventReceived || ev.Attempts != 1 {
		t.Errorf("first Record() = %s/%d, want received/1", ev.Status, ev.Attempts)
	}

	if err := repos.WebhookEvent.MarkProcessed(ctx, "stripe", "evt_1"); err != nil {
		t.Fatalf("MarkProcessed() error = %v", err)
	}
	ev, err = repos.WebhookEvent.Record(ctx, "stripe", "evt_1", "payment_intent.succeeded")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if ev.Status != models.WebhookEventProcessed || ev.Attempts != 2 {
		t.Errorf("redelivery Record() = %s/%d, want processed/2", ev.Status, ev.Attempts)
	}
	if ev.ProcessedAt == nil {
		t.Error("ProcessedAt should be set")
	}

	// Same id from another provider is a different event.
	ev, _ = repos.WebhookEvent.Record(ctx, "razorpay", "evt_1", "payment.captured")
	if ev.Status != models.WebhookEventReceived {
		t.Errorf("other provider Status = %s, want received", ev.Status)
	}
}

func TestWebhookEventRepository_MarkFailedKeepsProcessed(t *testing.T) {
	repos, _ := setupTestRepos(t)
	ctx := context.Background()

	if _, err := repos.WebhookEvent.Record(ctx, "stripe", "evt_2", "x"); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := repos.WebhookEvent.MarkFailed(ctx, "stripe", "evt_2", "db down"); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}
	ev, _ := repos.WebhookEvent.Record(ctx, "stripe", "evt_2", "x")
	if ev.Status != models.WebhookEventFailed || ev.LastError != "db down" {
		t.Errorf("Record() = %s/%q, want failed/db down", ev.Status, ev.LastError)
	}

	if err := repos.WebhookEvent.MarkProcessed(ctx, "stripe", "evt_2"); err != nil {
		t.Fatalf("MarkProcessed() error = %v", err)
	}
	if err := repos.WebhookEvent.MarkFailed(ctx, "stripe", "evt_2", "late"); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}
	ev, _ = repos.WebhookEvent.Record(ctx, "stripe", "evt_2", "x")
	if ev.Status != models.WebhookEventProcessed {
		t.Errorf("Status = %s, want processed", ev.Status)
	}
}

// ========================================
// Concurrent Writer Tests
// ========================================

// setupFileRepos opens a file-backed database through database.New so the
// pool holds several connections that contend for the write lock.
func setupFileRepos(t *testing.T) *Repositories {
	t.Helper()
	ctx := context.Background()
	db, err := database.New(ctx, database.Options{DSN: "file:" + filepath.Join(t.TempDir(), "payments.db")})
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := database.Migrate(ctx, db, nil); err != nil {
		t.Fatalf("database.Migrate() error = %v", err)
	}
	return NewRepositories(db)
}

func TestPaymentIntentRepository_ConcurrentWritersOnFile(t *testing.T) {
	repos := setupFileRepos(t)
	ctx := context.Background()

	const rounds = 20
	for i := 0; i < rounds; i++ {
		id := fmt.Sprintf("pi_race_%d", i)
		writes := []models.PaymentIntent{
			{ID: id, Provider: "stripe", UserID: "user_1", AmountMinor: 1500, Currency: "usd",
				Status: models.IntentStatusPending, ProviderStatus: "requires_confirmation", LicenseID: "lic_1"},
			{ID: id, Provider: "stripe", UserID: "user_1", AmountMinor: 1500, Currency: "usd",
				Status: models.IntentStatusSucceeded, ProviderStatus: "succeeded", LicenseID: "lic_1"},
		}

		var wg sync.WaitGroup
		errs := make(chan error, len(writes))
		for _, w := range writes {
			wg.Add(1)
			go func(pi models.PaymentIntent) {
				defer wg.Done()
				if _, err := repos.PaymentIntent.Upsert(ctx, &pi); err != nil {
					errs <- err
				}
			}(w)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("round %d: Upsert() error = %v", i, err)
		}

		got, err := repos.PaymentIntent.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if got == nil || got.Status != models.IntentStatusSucceeded || got.ProviderStatus != "succeeded" {
			t.Fatalf("round %d: stored = %+v, want succeeded regardless of order", i, got)
		}
	}
}
