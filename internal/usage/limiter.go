// Package usage persists oracle call counts and costs and answers admission
// checks against daily, hourly and cost limits.
package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const (
	retention   = 30 * 24 * time.Hour
	dayLayout   = "2006-01-02"
	hourLayout  = "2006-01-02-15"
	costEpsilon = 1e-9
)

// Limits of zero disable the corresponding check.
type Limits struct {
	Daily        int     `yaml:"daily_calls" json:"daily_calls"`
	Hourly       int     `yaml:"hourly_calls" json:"hourly_calls"`
	MaxDailyCost float64 `yaml:"max_daily_cost" json:"max_daily_cost"`
	CostPerCall  float64 `yaml:"cost_per_call" json:"cost_per_call"`
}

func DefaultLimits() Limits {
	return Limits{Daily: 200, Hourly: 40, MaxDailyCost: 1.50, CostPerCall: 0.015}
}

type Stats struct {
	DailyUsage      int     `json:"daily_usage"`
	DailyLimit      int     `json:"daily_limit"`
	HourlyUsage     int     `json:"hourly_usage"`
	HourlyLimit     int     `json:"hourly_limit"`
	DailyCost       float64 `json:"daily_cost"`
	MaxDailyCost    float64 `json:"max_daily_cost"`
	TotalCost30d    float64 `json:"total_cost_30d"`
	RemainingDaily  int     `json:"remaining_daily"`
	RemainingHourly int     `json:"remaining_hourly"`
}

const usageSchema = `
CREATE TABLE IF NOT EXISTS oracle_calls (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	called_at TEXT NOT NULL,
	day       TEXT NOT NULL,
	hour      TEXT NOT NULL,
	cost      REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS oracle_calls_day ON oracle_calls (day);
CREATE INDEX IF NOT EXISTS oracle_calls_hour ON oracle_calls (hour);
`

type Limiter struct {
	db     *sqlx.DB
	limits Limits
	now    func() time.Time
	log    *zap.Logger

	mu sync.Mutex
	// inFlight counts admitted calls not yet recorded; they count against every limit.
	inFlight int
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func WithLogger(log *zap.Logger) Option {
	return func(l *Limiter) {
		if log != nil {
			l.log = log
		}
	}
}

// Open creates or opens the usage database at path (":memory:" is allowed).
func Open(path string, limits Limits, opts ...Option) (*Limiter, error) {
	dsn := path
	if path != ":memory:" {
		dsn += "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)"
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(usageSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	l := &Limiter{db: db, limits: limits, now: time.Now, log: zap.NewNop()}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

func (l *Limiter) Close() error {
	return l.db.Close()
}

func (l *Limiter) Limits() Limits { return l.limits }

// CanProceed fails closed: a storage error denies the call. An admitted call
// holds a reservation until the matching RecordCall.
func (l *Limiter) CanProceed(ctx context.Context) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, err := l.stats(ctx)
	if err != nil {
		l.log.Error("usage lookup failed", zap.Error(err))
		return false, fmt.Sprintf("usage store unavailable: %v", err)
	}
	daily := st.DailyUsage + l.inFlight
	hourly := st.HourlyUsage + l.inFlight
	cost := st.DailyCost + float64(l.inFlight)*l.limits.CostPerCall
	switch {
	case l.limits.Daily > 0 && daily >= l.limits.Daily:
		return false, fmt.Sprintf("daily limit reached (%d/%d)", daily, l.limits.Daily)
	case l.limits.Hourly > 0 && hourly >= l.limits.Hourly:
		return false, fmt.Sprintf("hourly limit reached (%d/%d), retry next hour", hourly, l.limits.Hourly)
	case l.limits.MaxDailyCost > 0 && cost+costEpsilon >= l.limits.MaxDailyCost:
		return false, fmt.Sprintf("daily cost ceiling reached (%.2f/%.2f)", cost, l.limits.MaxDailyCost)
	}
	l.inFlight++
	return true, fmt.Sprintf("ok (%d/%d daily, %d/%d hourly)", daily, l.limits.Daily, hourly, l.limits.Hourly)
}

// RecordCall stores one issued call, settles its reservation and prunes rows
// older than 30 days.
func (l *Limiter) RecordCall(ctx context.Context, cost float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inFlight > 0 {
		l.inFlight--
	}
	now := l.now()

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO oracle_calls (called_at, day, hour, cost) VALUES (?, ?, ?, ?)",
		now.UTC().Format(time.RFC3339Nano), now.Format(dayLayout), now.Format(hourLayout), cost,
	); err != nil {
		return fmt.Errorf("insert call: %w", err)
	}
	cutoff := now.Add(-retention).UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, "DELETE FROM oracle_calls WHERE called_at < ?", cutoff); err != nil {
		return fmt.Errorf("prune calls: %w", err)
	}
	return tx.Commit()
}

func (l *Limiter) Stats(ctx context.Context) (Stats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats(ctx)
}

func (l *Limiter) stats(ctx context.Context) (Stats, error) {
	now := l.now()
	st := Stats{
		DailyLimit:   l.limits.Daily,
		HourlyLimit:  l.limits.Hourly,
		MaxDailyCost: l.limits.MaxDailyCost,
	}
	var row struct {
		Calls int     `db:"calls"`
		Cost  float64 `db:"cost"`
	}
	if err := l.db.GetContext(ctx, &row,
		"SELECT COUNT(*) AS calls, COALESCE(SUM(cost), 0.0) AS cost FROM oracle_calls WHERE day = ?",
		now.Format(dayLayout)); err != nil {
		return st, fmt.Errorf("daily usage: %w", err)
	}
	st.DailyUsage, st.DailyCost = row.Calls, row.Cost
	if err := l.db.GetContext(ctx, &st.HourlyUsage,
		"SELECT COUNT(*) FROM oracle_calls WHERE hour = ?", now.Format(hourLayout)); err != nil {
		return st, fmt.Errorf("hourly usage: %w", err)
	}
	cutoff := now.Add(-retention).UTC().Format(time.RFC3339Nano)
	if err := l.db.GetContext(ctx, &st.TotalCost30d,
		"SELECT COALESCE(SUM(cost), 0.0) FROM oracle_calls WHERE called_at >= ?", cutoff); err != nil {
		return st, fmt.Errorf("total cost: %w", err)
	}
	st.RemainingDaily = max(st.DailyLimit-st.DailyUsage, 0)
	st.RemainingHourly = max(st.HourlyLimit-st.HourlyUsage, 0)
	return st, nil
}
