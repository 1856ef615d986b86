package marketdb

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/perpbt/errs"
	"github.com/rustyeddy/perpbt/market"
)

// Store keeps bars and funding samples in SQLite and serves them as a
// market.Provider.
type Store struct {
	db *sql.DB
}

var _ market.Provider = (*Store)(nil)

func NewSQLite(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSeries stores every bar and funding sample of ser, replacing rows
// with the same key.
func (s *Store) SaveSeries(ctx context.Context, ser *market.Series) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		if err := insertBars(ctx, tx, ser.Instrument(), ser.Interval(), ser.Bars()); err != nil {
			return err
		}
		return insertFunding(ctx, tx, ser.Instrument(), ser.Funding())
	})
}

func (s *Store) InsertBars(ctx context.Context, instrument string, iv market.Interval, bars []market.Bar) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		return insertBars(ctx, tx, instrument, iv, bars)
	})
}

func (s *Store) InsertFunding(ctx context.Context, instrument string, fs []market.FundingSample) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		return insertFunding(ctx, tx, instrument, fs)
	})
}

func (s *Store) tx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func insertBars(ctx context.Context, tx *sql.Tx, instrument string, iv market.Interval, bars []market.Bar) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars
		(instrument, interval, ts, open, high, low, close, volume, gap)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, b := range bars {
		if err := b.Validate(); err != nil {
			return err
		}
		gap := 0
		if b.Gap {
			gap = 1
		}
		if _, err := stmt.ExecContext(ctx, instrument, string(iv), b.Time.UnixMilli(),
			b.Open, b.High, b.Low, b.Close, b.Volume, gap); err != nil {
			return fmt.Errorf("insert bar %s: %w", b.Time.Format(time.RFC3339), err)
		}
	}
	return nil
}

func insertFunding(ctx context.Context, tx *sql.Tx, instrument string, fs []market.FundingSample) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO funding (instrument, ts, rate)
		VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range fs {
		if math.IsNaN(f.Rate) || math.IsInf(f.Rate, 0) {
			return errs.E(errs.KindInputData, "marketdb.InsertFunding", "non-finite rate at %s", f.Time.Format(time.RFC3339))
		}
		if _, err := stmt.ExecContext(ctx, instrument, f.Time.UnixMilli(), f.Rate); err != nil {
			return fmt.Errorf("insert funding %s: %w", f.Time.Format(time.RFC3339), err)
		}
	}
	return nil
}

// Load implements market.Provider.
func (s *Store) Load(ctx context.Context, req market.Request) (*market.Series, error) {
	const op = "marketdb.Store.Load"

	if err := req.Validate(); err != nil {
		return nil, err
	}
	lo, hi := bounds(req)

	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume, gap FROM bars
		WHERE instrument = ? AND interval = ? AND ts >= ? AND ts <= ?
		ORDER BY ts`, req.Instrument, string(req.Interval), lo, hi)
	if err != nil {
		return nil, errs.Wrap(errs.KindInputData, op, err)
	}
	var bars []market.Bar
	for rows.Next() {
		var (
			ms  int64
			gap int
			b   market.Bar
		)
		if err := rows.Scan(&ms, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &gap); err != nil {
			rows.Close()
			return nil, errs.Wrap(errs.KindInputData, op, err)
		}
		b.Time = time.UnixMilli(ms).UTC()
		b.Gap = gap != 0
		bars = append(bars, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.KindInputData, op, err)
	}

	funding, err := s.funding(ctx, req.Instrument, lo, hi)
	if err != nil {
		return nil, errs.Wrap(errs.KindInputData, op, err)
	}
	return market.Assemble(req, bars, funding)
}

func (s *Store) funding(ctx context.Context, instrument string, lo, hi int64) ([]market.FundingSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, rate FROM funding
		WHERE instrument = ? AND ts >= ? AND ts <= ?
		ORDER BY ts`, instrument, lo, hi)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []market.FundingSample
	for rows.Next() {
		var ms int64
		var f market.FundingSample
		if err := rows.Scan(&ms, &f.Rate); err != nil {
			return nil, err
		}
		f.Time = time.UnixMilli(ms).UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}

func bounds(req market.Request) (lo, hi int64) {
	lo, hi = math.MinInt64, math.MaxInt64
	if !req.From.IsZero() {
		lo = req.From.UnixMilli()
	}
	if !req.To.IsZero() {
		hi = req.To.UnixMilli()
	}
	return lo, hi
}

// Instruments lists instruments that have bars.
func (s *Store) Instruments(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT instrument FROM bars ORDER BY instrument`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// Coverage describes the stored bars of one instrument and interval.
type Coverage struct {
	First   time.Time
	Last    time.Time
	Bars    int
	Funding int
}

func (s *Store) Range(ctx context.Context, instrument string, iv market.Interval) (Coverage, error) {
	var c Coverage
	var first, last sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
		SELECT MIN(ts), MAX(ts), COUNT(*) FROM bars
		WHERE instrument = ? AND interval = ?`, instrument, string(iv)).Scan(&first, &last, &c.Bars)
	if err != nil {
		return c, err
	}
	if c.Bars == 0 {
		return c, errs.Wrap(errs.KindInputData, "marketdb.Store.Range",
			fmt.Errorf("%w: no bars for %s %s", market.ErrDataUnavailable, instrument, iv))
	}
	c.First = time.UnixMilli(first.Int64).UTC()
	c.Last = time.UnixMilli(last.Int64).UTC()

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM funding
		WHERE instrument = ? AND ts >= ? AND ts <= ?`, instrument, first.Int64, last.Int64).Scan(&c.Funding)
	return c, err
}
