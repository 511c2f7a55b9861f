package models

import (
	"time"

	"github.com/shopspring/decimal"

	id "karbon/pkg/domain"
	dErrors "karbon/pkg/domain-errors"
)

// MintOperation is the direction of an on-chain token action.
type MintOperation string

const (
	MintOperationMint MintOperation = "mint"
	MintOperationBurn MintOperation = "burn"
)

// MintingTransaction is one row per successful on-chain mint or burn.
// The policy script is retained verbatim so a later burn can reconstruct
// minting authority without re-deriving it. Immutable once written.
type MintingTransaction struct {
	TxHash       string
	CreditID     id.CreditID
	ProjectID    id.ProjectID
	PolicyID     string
	AssetName    string
	Quantity     decimal.Decimal
	Operation    MintOperation
	PolicyScript string // canonical JSON of the policy script
	CreatedAt    time.Time
}

// NewMintingTransaction validates and builds a minting record.
func NewMintingTransaction(txHash string, creditID id.CreditID, projectID id.ProjectID, policyID, assetName string, quantity decimal.Decimal, op MintOperation, policyScript string, now time.Time) (*MintingTransaction, error) {
	if txHash == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "minting record requires a tx hash")
	}
	if policyID == "" || assetName == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "minting record requires policy id and asset name")
	}
	if policyScript == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "minting record requires the policy script")
	}
	if !quantity.IsPositive() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "minting quantity must be greater than zero")
	}
	return &MintingTransaction{
		TxHash:       txHash,
		CreditID:     creditID,
		ProjectID:    projectID,
		PolicyID:     policyID,
		AssetName:    assetName,
		Quantity:     quantity,
		Operation:    op,
		PolicyScript: policyScript,
		CreatedAt:    now,
	}, nil
}
