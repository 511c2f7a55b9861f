// Package store owns persistence for the credit ledger.
//
// Ledger rows are mutated only through ExecuteLocked, which holds an
// exclusive lock on the credit (FOR UPDATE in postgres, a per-credit mutex in
// memory) for the duration of the callback. Anything the callback writes
// through the store lands in the same transaction and rolls back together.
package store

import (
	"context"

	"karbon/internal/credit/models"
	id "karbon/pkg/domain"
)

// Filter narrows credit listing queries. Nil fields are ignored.
type Filter struct {
	OwnerID   *id.UserID
	ProjectID *id.ProjectID
	Status    *models.CreditStatus
	Vintage   *int
	Page      int
	PageSize  int
	SortBy    string
	SortDesc  bool
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// sortColumns whitelists caller-supplied sort keys. Anything else falls back
// to created_at.
var sortColumns = map[string]string{
	"created_at": "issued_at",
	"vintage":    "vintage",
	"quantity":   "quantity",
	"serial":     "serial",
	"status":     "status",
}

// Clamp normalizes pagination and sorting in place and returns the filter.
func (f Filter) Clamp() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = defaultPageSize
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}
	if _, ok := sortColumns[f.SortBy]; !ok {
		f.SortBy = "created_at"
	}
	return f
}

// Ledger is the persistence contract for credits, lifecycle transactions and
// minting records.
type Ledger interface {
	// CreateCredit persists a freshly issued credit entry.
	CreateCredit(ctx context.Context, credit *models.CreditEntry) error
	// UpdateCredit writes back a mutated credit. Inside ExecuteLocked the
	// write joins the open transaction.
	UpdateCredit(ctx context.Context, credit *models.CreditEntry) error
	// FindCreditByID returns a credit or sentinel.ErrNotFound.
	FindCreditByID(ctx context.Context, creditID id.CreditID) (*models.CreditEntry, error)
	// FindCreditBySerial returns a credit or sentinel.ErrNotFound.
	FindCreditBySerial(ctx context.Context, serial string) (*models.CreditEntry, error)
	// ListCredits returns a page of credits matching the filter.
	ListCredits(ctx context.Context, f Filter) ([]*models.CreditEntry, error)
	// CountCredits returns the total number of credits matching the filter.
	CountCredits(ctx context.Context, f Filter) (int, error)
	// MaxSerialSequence returns the highest serial sequence already issued for
	// a (project, vintage) pair, 0 when none exist.
	MaxSerialSequence(ctx context.Context, projectID id.ProjectID, vintage int) (int, error)

	// ExecuteLocked runs fn with an exclusive lock on the credit row inside a
	// serializable transaction. fn receives a transaction-scoped context and
	// the locked entry; returning an error rolls back every write made
	// through the store in that context.
	ExecuteLocked(ctx context.Context, creditID id.CreditID, fn func(txCtx context.Context, credit *models.CreditEntry) error) error

	// AppendTransaction appends an immutable lifecycle event record.
	AppendTransaction(ctx context.Context, txn *models.CreditTransaction) error
	// ListTransactionsByCredit returns lifecycle events oldest first.
	ListTransactionsByCredit(ctx context.Context, creditID id.CreditID) ([]*models.CreditTransaction, error)

	// CreateMinting persists a successful on-chain mint/burn record.
	CreateMinting(ctx context.Context, mint *models.MintingTransaction) error
	// FindMinting returns the original mint record for a token class, used to
	// recover the policy script for burns.
	FindMinting(ctx context.Context, projectID id.ProjectID, policyID, assetName string) (*models.MintingTransaction, error)
}
