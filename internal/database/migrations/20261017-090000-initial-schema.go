package migrations

func init() {
	Register(Migration{
		Timestamp:   "20261017-090000",
		Description: "Initial schema: users, samples, generations, licenses",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				email TEXT,
				subscription_active INTEGER NOT NULL DEFAULT 0,
				stripe_customer_id TEXT,
				razorpay_customer_id TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,

			// Catalogue samples; prices are in minor units
			`CREATE TABLE IF NOT EXISTS audio_samples (
				id TEXT PRIMARY KEY,
				title TEXT NOT NULL,
				approved INTEGER NOT NULL DEFAULT 0,
				file_location TEXT,
				price_personal_minor INTEGER NOT NULL DEFAULT 0,
				price_commercial_minor INTEGER,
				price_enterprise_minor INTEGER,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_audio_samples_approved ON audio_samples(approved)`,

			`CREATE TABLE IF NOT EXISTS generations (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				type TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				parameters_json TEXT NOT NULL DEFAULT '{}',
				source_sample_ids_json TEXT NOT NULL DEFAULT '[]',
				backend TEXT NOT NULL,
				job_id TEXT,
				result_location TEXT,
				error_message TEXT,
				download_unlocked INTEGER NOT NULL DEFAULT 0,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				CHECK ((status = 'completed') = (result_location IS NOT NULL))
			)`,
			`CREATE INDEX IF NOT EXISTS idx_generations_user_id ON generations(user_id, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_generations_status ON generations(status, created_at)`,

			`CREATE TABLE IF NOT EXISTS licenses (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				sample_id TEXT,
				generation_id TEXT,
				tier TEXT NOT NULL,
				price_minor INTEGER NOT NULL,
				currency TEXT NOT NULL DEFAULT 'usd',
				payment_status TEXT NOT NULL DEFAULT 'pending',
				payment_intent_id TEXT,
				active INTEGER NOT NULL DEFAULT 0,
				download_limit INTEGER,
				downloads_used INTEGER NOT NULL DEFAULT 0,
				expires_at TEXT NOT NULL,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				CHECK ((sample_id IS NULL) != (generation_id IS NULL)),
				CHECK (download_limit IS NULL OR downloads_used <= download_limit),
				CHECK (active = 0 OR payment_status = 'completed' OR price_minor = 0)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_licenses_user_id ON licenses(user_id, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_licenses_generation_id ON licenses(generation_id)`,
			`CREATE INDEX IF NOT EXISTS idx_licenses_payment_intent_id ON licenses(payment_intent_id)`,

			// Append-only audit trail
			`CREATE TABLE IF NOT EXISTS license_events (
				id TEXT PRIMARY KEY,
				license_id TEXT NOT NULL,
				type TEXT NOT NULL,
				source TEXT NOT NULL,
				reference TEXT,
				details TEXT,
				created_at TEXT NOT NULL,
				FOREIGN KEY (license_id) REFERENCES licenses(id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_license_events_license_id ON license_events(license_id, created_at)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_license_events_single_activation ON license_events(license_id) WHERE type = 'activated'`,
		},
	})
}
