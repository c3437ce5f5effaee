package migrations

func init() {
	Register(Migration{
		Timestamp:   "20261017-091500",
		Description: "Add payment mirror, refunds, subscriptions, disputes and webhook event tables",
		Up: []string{
			// Local mirror of provider payment intents/orders, keyed by provider id
			`CREATE TABLE IF NOT EXISTS payment_intents (
				id TEXT PRIMARY KEY,
				provider TEXT NOT NULL,
				user_id TEXT NOT NULL,
				amount_minor INTEGER NOT NULL,
				currency TEXT NOT NULL,
				status TEXT NOT NULL,
				provider_status TEXT NOT NULL DEFAULT '',
				license_id TEXT,
				generation_id TEXT,
				failure_reason TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_payment_intents_user_id ON payment_intents(user_id, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_payment_intents_license_id ON payment_intents(license_id)`,

			`CREATE TABLE IF NOT EXISTS refunds (
				id TEXT PRIMARY KEY,
				payment_intent_id TEXT NOT NULL,
				provider TEXT NOT NULL,
				amount_minor INTEGER NOT NULL,
				currency TEXT NOT NULL,
				status TEXT NOT NULL,
				reason TEXT,
				created_at TEXT NOT NULL,
				FOREIGN KEY (payment_intent_id) REFERENCES payment_intents(id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_refunds_payment_intent_id ON refunds(payment_intent_id)`,

			`CREATE TABLE IF NOT EXISTS subscriptions (
				id TEXT PRIMARY KEY,
				provider TEXT NOT NULL,
				user_id TEXT NOT NULL,
				status TEXT NOT NULL,
				provider_status TEXT NOT NULL DEFAULT '',
				current_period_start TEXT,
				current_period_end TEXT,
				cancel_at_period_end INTEGER NOT NULL DEFAULT 0,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_subscriptions_user_id ON subscriptions(user_id)`,

			// Disputes wait for manual review
			`CREATE TABLE IF NOT EXISTS disputes (
				id TEXT PRIMARY KEY,
				provider TEXT NOT NULL,
				payment_intent_id TEXT,
				amount_minor INTEGER NOT NULL DEFAULT 0,
				currency TEXT NOT NULL DEFAULT '',
				reason TEXT,
				status TEXT NOT NULL,
				created_at TEXT NOT NULL
			)`,

			// Provider event ids already seen, for webhook deduplication
			`CREATE TABLE IF NOT EXISTS webhook_events (
				provider TEXT NOT NULL,
				event_id TEXT NOT NULL,
				type TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'received',
				attempts INTEGER NOT NULL DEFAULT 1,
				last_error TEXT,
				received_at TEXT NOT NULL,
				processed_at TEXT,
				PRIMARY KEY (provider, event_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_webhook_events_status ON webhook_events(status)`,
		},
	})
}
