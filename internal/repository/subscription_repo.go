package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/models"
)

// SQLiteSubscriptionRepository implements SubscriptionRepository for SQLite.
type SQLiteSubscriptionRepository struct {
	db *sql.DB
}

// NewSQLiteSubscriptionRepository creates a new SQLite subscription repository.
func NewSQLiteSubscriptionRepository(db *sql.DB) *SQLiteSubscriptionRepository {
	return &SQLiteSubscriptionRepository{db: db}
}

const subscriptionColumns = `id, provider, user_id, plan_id, status, provider_status, current_period_start,
	current_period_end, cancel_at_period_end, created_at, updated_at`

// Upsert mirrors the provider's view of a subscription. Period bounds and
// the plan are only replaced when the update carries them.
func (r *SQLiteSubscriptionRepository) Upsert(ctx context.Context, s *models.Subscription) error {
	now := time.Now()
	created := s.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			provider_status = excluded.provider_status,
			user_id = CASE WHEN excluded.user_id = '' THEN subscriptions.user_id ELSE excluded.user_id END,
			plan_id = COALESCE(excluded.plan_id, subscriptions.plan_id),
			current_period_start = COALESCE(excluded.current_period_start, subscriptions.current_period_start),
			current_period_end = COALESCE(excluded.current_period_end, subscriptions.current_period_end),
			cancel_at_period_end = excluded.cancel_at_period_end,
			updated_at = excluded.updated_at
	`,
		s.ID, s.Provider, s.UserID, nullString(s.PlanID), s.Status, s.ProviderStatus,
		nullTime(s.CurrentPeriodStart), nullTime(s.CurrentPeriodEnd), boolInt(s.CancelAtPeriodEnd),
		formatTime(created), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

func (r *SQLiteSubscriptionRepository) GetByID(ctx context.Context, id string) (*models.Subscription, error) {
	s, err := scanSubscription(r.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return s, nil
}

// GetByUserID returns the user's subscriptions, newest first.
func (r *SQLiteSubscriptionRepository) GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*models.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// HasAccess reports whether any of the user's subscriptions is in one of
// the given statuses.
func (r *SQLiteSubscriptionRepository) HasAccess(ctx context.Context, userID string, statuses ...models.SubscriptionStatus) (bool, error) {
	if len(statuses) == 0 {
		return false, nil
	}
	args := []any{userID}
	for _, st := range statuses {
		args = append(args, st)
	}
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE user_id = ? AND status IN (`+placeholders(len(statuses))+`)`,
		args...,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check subscriptions: %w", err)
	}
	return n > 0, nil
}

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var s models.Subscription
	var planID, start, end sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(
		&s.ID, &s.Provider, &s.UserID, &planID, &s.Status, &s.ProviderStatus, &start, &end,
		&s.CancelAtPeriodEnd, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	s.PlanID = planID.String
	s.CurrentPeriodStart = timePtr(start)
	s.CurrentPeriodEnd = timePtr(end)
	s.CreatedAt = parseTime(createdAt)
	s.UpdatedAt = parseTime(updatedAt)
	return &s, nil
}

// SQLiteUserRepository implements UserRepository for SQLite.
type SQLiteUserRepository struct {
	db *sql.DB
}

// NewSQLiteUserRepository creates a new SQLite user repository.
func NewSQLiteUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

// Ensure creates the user row on first sight and refreshes the email.
func (r *SQLiteUserRepository) Ensure(ctx context.Context, id, email string) error {
	now := formatTime(time.Now())
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = COALESCE(excluded.email, users.email),
			updated_at = excluded.updated_at
	`, id, nullString(email), now, now)
	if err != nil {
		return fmt.Errorf("failed to ensure user: %w", err)
	}
	return nil
}

func (r *SQLiteUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	var email, stripeID, razorpayID sql.NullString
	var createdAt, updatedAt string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, subscription_active, stripe_customer_id, razorpay_customer_id, created_at, updated_at
		FROM users WHERE id = ?
	`, id).Scan(&u.ID, &email, &u.SubscriptionActive, &stripeID, &razorpayID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.Email = email.String
	u.StripeCustomerID = stripeID.String
	u.RazorpayCustomerID = razorpayID.String
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return &u, nil
}

// SetCustomerID stores the provider-side customer id for the user.
func (r *SQLiteUserRepository) SetCustomerID(ctx context.Context, id, provider, customerID string) error {
	var column string
	switch provider {
	case "stripe":
		column = "stripe_customer_id"
	case "razorpay":
		column = "razorpay_customer_id"
	default:
		return fmt.Errorf("unknown payment provider %q", provider)
	}
	_, err := r.db.ExecContext(ctx,
		"UPDATE users SET "+column+" = ?, updated_at = ? WHERE id = ?",
		customerID, formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set customer id: %w", err)
	}
	return nil
}

// SetSubscriptionActive creates the user when a subscription event arrives
// before the user has called the API.
func (r *SQLiteUserRepository) SetSubscriptionActive(ctx context.Context, id string, active bool) error {
	now := formatTime(time.Now())
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, subscription_active, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			subscription_active = excluded.subscription_active,
			updated_at = excluded.updated_at
	`, id, boolInt(active), now, now)
	if err != nil {
		return fmt.Errorf("failed to set subscription flag: %w", err)
	}
	return nil
}
