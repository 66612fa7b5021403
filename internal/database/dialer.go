package database

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"sqlgate/internal/domain"
)

// Dialer opens a fresh session per call.
type Dialer interface {
	Dial(ctx context.Context) (*Session, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (*Session, error)

func (f DialerFunc) Dial(ctx context.Context) (*Session, error) { return f(ctx) }

// Options configure the PostgreSQL sessions.
type Options struct {
	DSN              string
	StatementTimeout time.Duration
	IdleTxTimeout    time.Duration
	TimeZone         string
	ConnectTimeout   time.Duration
}

// PostgresDialer connects with pgx. Every session starts with the timeouts,
// time zone and read-only default applied as startup parameters.
type PostgresDialer struct {
	cfg *pgx.ConnConfig
}

// NewPostgresDialer parses opts.DSN and prepares the session parameters.
func NewPostgresDialer(opts Options) (*PostgresDialer, error) {
	cfg, err := pgx.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	if cfg.RuntimeParams == nil {
		cfg.RuntimeParams = map[string]string{}
	}
	for k, v := range SessionParams(opts) {
		cfg.RuntimeParams[k] = v
	}
	if opts.ConnectTimeout > 0 {
		cfg.ConnectTimeout = opts.ConnectTimeout
	}
	return &PostgresDialer{cfg: cfg}, nil
}

// SessionParams returns the startup parameters applied to every session.
func SessionParams(opts Options) map[string]string {
	params := map[string]string{
		"default_transaction_read_only": "on",
	}
	if opts.StatementTimeout > 0 {
		params["statement_timeout"] = strconv.FormatInt(opts.StatementTimeout.Milliseconds(), 10)
	}
	if opts.IdleTxTimeout > 0 {
		params["idle_in_transaction_session_timeout"] = strconv.FormatInt(opts.IdleTxTimeout.Milliseconds(), 10)
	}
	if opts.TimeZone != "" {
		params["TimeZone"] = opts.TimeZone
	}
	return params
}

// Dial opens a private single-connection handle and pins its connection.
// Failures are reported as *domain.ConnectionError and not retried.
func (d *PostgresDialer) Dial(ctx context.Context) (*Session, error) {
	db := stdlib.OpenDB(*d.cfg.Copy())
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s, err := OpenSession(ctx, db)
	if err != nil {
		return nil, domain.ErrConnection(err)
	}
	return s, nil
}
