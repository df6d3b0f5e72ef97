package models

import "time"

// TransactionType — вид записи кредитного журнала.
type TransactionType string

const (
	TxGrant       TransactionType = "grant"
	TxSpend       TransactionType = "spend"
	TxRefund      TransactionType = "refund"
	TxAdminAdjust TransactionType = "admin_adjust"
)

// CreditTransaction — неизменяемая запись журнала. Amount хранится по модулю,
// знак определяется типом: grant и refund увеличивают баланс, spend уменьшает,
// admin_adjust хранит знак в Metadata["direction"].
type CreditTransaction struct {
	ID           string
	UserUID      string
	Type         TransactionType
	Amount       int64
	BalanceAfter int64
	ReferenceID  string
	Source       string
	Metadata     map[string]string
	CreatedAt    time.Time
}

// Balance — снимок баланса подписчика.
type Balance struct {
	UserUID        string
	Balance        int64
	LifetimeEarned int64
	LifetimeSpent  int64
}

// GenerationType — вид генерации, определяющий стоимость в баллах.
type GenerationType string

const (
	GenerationImage         GenerationType = "image"
	GenerationVideoStandard GenerationType = "video_standard"
	GenerationVideoHigh     GenerationType = "video_high"
)

// LedgerMismatch — расхождение баланса с суммой записей журнала.
type LedgerMismatch struct {
	UserUID      string
	Balance      int64
	JournalTotal int64
}

// LedgerEntry — параметры одной операции журнала.
type LedgerEntry struct {
	UserUID     string
	Type        TransactionType
	Amount      int64
	ReferenceID string
	Source      string
	Metadata    map[string]string
}

// Generation — одна учтённая генерация.
type Generation struct {
	Owner       Owner
	Type        GenerationType
	ReferenceID string
	// Points — стоимость в баллах; 0 означает генерацию без списания.
	Points int64
	Day    time.Time
}

// GenerationResult — итог записи генерации.
type GenerationResult struct {
	Count    int
	Spend    *CreditTransaction
	Replayed bool
}
