package models

import (
	"time"

	"github.com/shopspring/decimal"

	id "karbon/pkg/domain"
	dErrors "karbon/pkg/domain-errors"
)

// TransactionType classifies a lifecycle event.
type TransactionType string

const (
	TransactionTypeIssuance   TransactionType = "issuance"
	TransactionTypeTransfer   TransactionType = "transfer"
	TransactionTypeRetirement TransactionType = "retirement"
)

// TransactionStatus is the settlement state of a lifecycle event record.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// CreditTransaction is the append-only record of one lifecycle event.
// Never deleted; may gain a trailing chain hash once async anchoring lands.
type CreditTransaction struct {
	ID        id.TransactionID
	CreditID  id.CreditID
	Type      TransactionType
	Sender    *id.UserID // unset for issuance
	Recipient *id.UserID // unset for retirement
	Quantity  decimal.Decimal
	Status    TransactionStatus
	TxHash    string
	Metadata  TransactionMetadata
	CreatedAt time.Time
}

// NewIssuanceTransaction records the minting of a new credit entry.
func NewIssuanceTransaction(creditID id.CreditID, recipient id.UserID, quantity decimal.Decimal, meta IssuanceMetadata, now time.Time) (*CreditTransaction, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	return newTransaction(creditID, TransactionTypeIssuance, nil, &recipient, quantity, meta, now)
}

// NewTransferTransaction records an ownership move between two accounts.
func NewTransferTransaction(creditID id.CreditID, sender, recipient id.UserID, quantity decimal.Decimal, meta TransferMetadata, now time.Time) (*CreditTransaction, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	return newTransaction(creditID, TransactionTypeTransfer, &sender, &recipient, quantity, meta, now)
}

// NewRetirementTransaction records a terminal retirement.
func NewRetirementTransaction(creditID id.CreditID, sender id.UserID, quantity decimal.Decimal, meta RetirementMetadata, now time.Time) (*CreditTransaction, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	return newTransaction(creditID, TransactionTypeRetirement, &sender, nil, quantity, meta, now)
}

func newTransaction(creditID id.CreditID, typ TransactionType, sender, recipient *id.UserID, quantity decimal.Decimal, meta TransactionMetadata, now time.Time) (*CreditTransaction, error) {
	if creditID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "credit id is required")
	}
	if !quantity.IsPositive() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "transaction quantity must be greater than zero")
	}
	return &CreditTransaction{
		ID:        id.NewTransactionID(),
		CreditID:  creditID,
		Type:      typ,
		Sender:    sender,
		Recipient: recipient,
		Quantity:  quantity,
		Status:    TransactionStatusCompleted,
		Metadata:  meta,
		CreatedAt: now,
	}, nil
}

// SetChainHash attaches the trailing chain hash once anchoring completes.
// A hash can only be set once.
func (t *CreditTransaction) SetChainHash(hash string) error {
	if t.TxHash != "" {
		return dErrors.New(dErrors.CodeConflict, "transaction already carries a chain hash")
	}
	if hash == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "chain hash must not be empty")
	}
	t.TxHash = hash
	return nil
}
