// Package repository реализует хранилище биллингового ядра на PostgreSQL:
// каноническую подписку и её устаревшее представление, кредитный журнал,
// счётчики использования и журнал дедупликации вебхуков.
package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	// Регистрация драйвера pgx для использования с database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/magabrotheeeer/genbilling/internal/models"
)

// Storage инкапсулирует соединение с базой данных PostgreSQL.
type Storage struct {
	DB *sql.DB
}

// querier — общее подмножество *sql.DB и *sql.Tx, позволяющее
// переиспользовать запросы внутри одной транзакции.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New создаёт подключение к PostgreSQL.
func New(storageConnectionString string) (*Storage, error) {
	const op = "storage.New"

	db, err := sql.Open("pgx", storageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{
		DB: db,
	}, nil
}

// NewWithDB оборачивает уже открытое соединение.
func NewWithDB(db *sql.DB) *Storage {
	return &Storage{DB: db}
}

// CheckDatabaseReady проверяет, что схема применена.
func CheckDatabaseReady(ctx context.Context, storage *Storage) error {
	var exists bool
	err := storage.DB.QueryRowContext(ctx, `SELECT EXISTS (
        SELECT FROM information_schema.tables
        WHERE table_name = 'subscriptions'
    )`).Scan(&exists)
	if err != nil {
		return fmt.Errorf("required table subscriptions query error: %w", classify(err))
	}
	if !exists {
		return errors.New("required table subscriptions missing")
	}
	return nil
}

// Ping проверяет доступность базы данных.
func (s *Storage) Ping(ctx context.Context) error {
	if err := s.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("storage.Ping: %w", classify(err))
	}
	return nil
}

// Close закрывает пул соединений.
func (s *Storage) Close() error {
	return s.DB.Close()
}

// withTx выполняет fn в транзакции; при ошибке транзакция откатывается.
func (s *Storage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err = tx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

// classify переводит ошибки драйвера в доменные: конфликт сериализации и
// взаимоблокировка становятся ErrConcurrencyConflict, обрыв соединения
// становится ErrStoreUnavailable. Остальные ошибки возвращаются как есть.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgerrcode.SerializationFailure, pgErr.Code == pgerrcode.DeadlockDetected:
			return fmt.Errorf("%w: %s", models.ErrConcurrencyConflict, pgErr.Message)
		case pgerrcode.IsConnectionException(pgErr.Code),
			pgerrcode.IsInsufficientResources(pgErr.Code),
			pgErr.Code == pgerrcode.AdminShutdown,
			pgErr.Code == pgerrcode.CannotConnectNow:
			return fmt.Errorf("%w: %s", models.ErrStoreUnavailable, pgErr.Message)
		}
		return err
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
