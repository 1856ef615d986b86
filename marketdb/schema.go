package marketdb

// Times are unix milliseconds, UTC.
const Schema = `
CREATE TABLE IF NOT EXISTS bars (
	instrument TEXT NOT NULL,
	interval TEXT NOT NULL,
	ts INTEGER NOT NULL,
	open REAL NOT NULL,
	high REAL NOT NULL,
	low REAL NOT NULL,
	close REAL NOT NULL,
	volume REAL NOT NULL,
	gap INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (instrument, interval, ts)
);

CREATE TABLE IF NOT EXISTS funding (
	instrument TEXT NOT NULL,
	ts INTEGER NOT NULL,
	rate REAL NOT NULL,
	PRIMARY KEY (instrument, ts)
);

CREATE INDEX IF NOT EXISTS idx_funding_ts ON funding(ts);
`
