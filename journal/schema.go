package journal

const Schema = `
CREATE TABLE IF NOT EXISTS transactions (
	transaction_id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	order_id TEXT NOT NULL DEFAULT '',
	position_id TEXT NOT NULL DEFAULT '',
	instrument TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL,
	side TEXT NOT NULL DEFAULT '',
	quantity REAL NOT NULL,
	price REAL NOT NULL,
	leverage REAL NOT NULL,
	closed_quantity REAL NOT NULL,
	realized_pnl REAL NOT NULL,
	commission REAL NOT NULL,
	timestamp DATETIME NOT NULL,
	correction_of TEXT NOT NULL DEFAULT '',
	reversal INTEGER NOT NULL DEFAULT 0,
	note TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_transactions_account_time ON transactions(account_id, timestamp, seq);

CREATE TABLE IF NOT EXISTS snapshots (
	time DATETIME NOT NULL,
	account_id TEXT NOT NULL,
	balance REAL NOT NULL,
	equity REAL NOT NULL,
	unrealized_pnl REAL NOT NULL,
	margin_used REAL NOT NULL,
	margin_available REAL NOT NULL,
	pending_margin REAL NOT NULL,
	free_margin REAL NOT NULL,
	realized_pnl REAL NOT NULL,
	commission REAL NOT NULL,
	open_positions INTEGER NOT NULL,
	sequence INTEGER NOT NULL,
	stop_out INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_account_time ON snapshots(account_id, time);

CREATE TABLE IF NOT EXISTS alerts (
	alert_id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	severity TEXT NOT NULL,
	margin_ratio REAL,
	position_id TEXT NOT NULL DEFAULT '',
	instrument TEXT NOT NULL DEFAULT '',
	equity REAL NOT NULL,
	margin_used REAL NOT NULL,
	margin_available REAL NOT NULL,
	unrealized_pnl REAL NOT NULL,
	message TEXT NOT NULL,
	timestamp DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_account_time ON alerts(account_id, timestamp);
`
