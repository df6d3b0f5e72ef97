package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/magabrotheeeer/genbilling/internal/migrations"
	"github.com/magabrotheeeer/genbilling/internal/models"
)

// TestDataFactory содержит методы для создания тестовых данных
type TestDataFactory struct {
	storage *Storage
}

// NewTestDataFactory создает новую фабрику тестовых данных
func NewTestDataFactory(storage *Storage) *TestDataFactory {
	return &TestDataFactory{storage: storage}
}

// CreateSubscriber создает пользователя с бесплатной подпиской
func (f *TestDataFactory) CreateSubscriber(t *testing.T, userUID string) {
	require.NoError(t, f.storage.EnsureSubscriber(context.Background(), userUID, userUID+"@example.com"))
}

// CreateSubscriberWithBalance создает пользователя и начисляет ему баллы
func (f *TestDataFactory) CreateSubscriberWithBalance(t *testing.T, userUID string, points int64) {
	f.CreateSubscriber(t, userUID)
	_, _, err := f.storage.Grant(context.Background(), models.LedgerEntry{
		UserUID:     userUID,
		Amount:      points,
		ReferenceID: "seed-" + userUID,
		Source:      "test",
	})
	require.NoError(t, err)
}

// TestVerification содержит общие функции для проверки результатов тестов
type TestVerification struct {
	storage *Storage
}

// NewTestVerification создает новый объект для проверки результатов
func NewTestVerification(storage *Storage) *TestVerification {
	return &TestVerification{storage: storage}
}

// VerifyLedgerIdentity проверяет balance = earned - spent и совпадение с журналом
func (v *TestVerification) VerifyLedgerIdentity(t *testing.T, userUID string) {
	b, err := v.storage.GetBalance(context.Background(), userUID)
	require.NoError(t, err)
	require.Equal(t, b.LifetimeEarned-b.LifetimeSpent, b.Balance)
	require.GreaterOrEqual(t, b.Balance, int64(0))

	mismatches, err := v.storage.FindLedgerMismatches(context.Background(), 100)
	require.NoError(t, err)
	for _, m := range mismatches {
		require.NotEqual(t, userUID, m.UserUID, "journal total %d differs from balance %d", m.JournalTotal, m.Balance)
	}
}

// CountTransactions возвращает число записей журнала указанного типа
func (v *TestVerification) CountTransactions(t *testing.T, userUID, typ string) int {
	var count int
	err := v.storage.DB.QueryRow(`SELECT COUNT(*) FROM credit_transactions WHERE user_uid = $1 AND type = $2`,
		userUID, typ).Scan(&count)
	require.NoError(t, err)
	return count
}

// setupTestDatabase создает тестовую БД с контейнером PostgreSQL и применяет миграции
func setupTestDatabase(t *testing.T) (*Storage, func()) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	require.NoError(t, err, "failed to start container")

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Пробуем подключиться несколько раз с ретраями
	var storage *Storage
	for range 10 {
		storage, err = New(connStr)
		if err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	require.NoError(t, err, "Failed to create storage after retries")

	migrationsPath, err := filepath.Abs("../../../migrations")
	require.NoError(t, err)
	require.NoError(t, migrations.Run(storage.DB, migrationsPath), "Failed to apply migrations")

	cleanup := func() {
		if storage != nil && storage.DB != nil {
			_ = storage.DB.Close()
		}
		_ = postgresContainer.Terminate(ctx)
	}

	return storage, cleanup
}
