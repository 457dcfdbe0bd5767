// Package pg is the PostgreSQL implementation of every store used by the
// auth, election, padron and audit packages.
package pg

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"colegio.org/internal/apperr"
	"colegio.org/internal/audit"
	"colegio.org/internal/auth"
	"colegio.org/internal/election"
	"colegio.org/internal/padron"
)

//go:embed migrations/*.sql
var migrations embed.FS

const migrationsDir = "migrations"

type Store struct {
	db *sql.DB
}

var (
	_ auth.Store        = (*Store)(nil)
	_ auth.RBACStore    = (*Store)(nil)
	_ election.Store    = (*Store)(nil)
	_ padron.Store      = (*Store)(nil)
	_ audit.Store       = (*Store)(nil)
	_ election.BallotTx = (*ballotTx)(nil)
)

func Open(dsn string, maxOpen int) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if maxOpen <= 0 {
		maxOpen = 25
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle. Tests use it with sqlmock.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func prepareGoose() error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	return nil
}

// Migrate applies every pending embedded migration.
func (s *Store) Migrate(ctx context.Context) error {
	if err := prepareGoose(); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, s.db, migrationsDir); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// MigrateDown rolls back the latest migration.
func (s *Store) MigrateDown(ctx context.Context) error {
	if err := prepareGoose(); err != nil {
		return err
	}
	if err := goose.DownContext(ctx, s.db, migrationsDir); err != nil {
		return fmt.Errorf("goose down: %w", err)
	}
	return nil
}

// MigrateStatus prints the state of every migration through goose's logger.
func (s *Store) MigrateStatus(ctx context.Context) error {
	if err := prepareGoose(); err != nil {
		return err
	}
	return goose.StatusContext(ctx, s.db, migrationsDir)
}

// --- helpers ---

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// mapError translates driver errors into the apperr taxonomy. what names the
// entity for messages.
func mapError(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("%s not found", what)
	}
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return apperr.Conflict("%s already exists", what)
		case pgerrcode.ForeignKeyViolation:
			return apperr.NotFound("referenced record for %s not found", what)
		case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
			return apperr.Conflict("concurrent update, retry the request")
		case pgerrcode.CheckViolation:
			return apperr.BadRequest("invalid %s", what)
		}
	}
	return err
}

func expectAffected(res sql.Result, what string) error {
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return apperr.NotFound("%s not found", what)
	}
	return nil
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

// placeholders renders $from..$from+n-1 separated by commas.
func placeholders(from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(parts, ", ")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

// setBuilder accumulates "col = $n" clauses for partial updates.
type setBuilder struct {
	sets []string
	args []any
}

func (b *setBuilder) add(column string, value any) {
	b.args = append(b.args, value)
	b.sets = append(b.sets, fmt.Sprintf("%s = $%d", column, len(b.args)))
}

func (b *setBuilder) empty() bool { return len(b.sets) == 0 }

// query renders "update table set ... where key = $n" with id as the last argument.
func (b *setBuilder) query(table, key string, id any) (string, []any) {
	args := append(b.args, id)
	return fmt.Sprintf("update %s set %s where %s = $%d", table, strings.Join(b.sets, ", "), key, len(args)), args
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) inTx(ctx context.Context, opts *sql.TxOptions, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return mapError(err, "record")
	}
	return mapError(tx.Commit(), "transaction")
}

var serializable = &sql.TxOptions{Isolation: sql.LevelSerializable}
