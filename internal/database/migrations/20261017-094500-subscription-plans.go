package migrations

func init() {
	Register(Migration{
		Timestamp:   "20261017-094500",
		Description: "Record the plan a subscription was started on",
		Up: []string{
			`ALTER TABLE subscriptions ADD COLUMN plan_id TEXT`,
			`CREATE INDEX IF NOT EXISTS idx_subscriptions_user_created ON subscriptions(user_id, created_at)`,
		},
	})
}
