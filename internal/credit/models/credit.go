package models

import (
	"time"

	"github.com/shopspring/decimal"

	id "karbon/pkg/domain"
	dErrors "karbon/pkg/domain-errors"
)

// CreditStatus is the lifecycle state of a credit entry.
//
// Transitions: active -> transferred (repeatable, ownership moves on),
// active/transferred -> retired (terminal). Quantity never changes after
// issuance; partial retirements retire the whole entry and record the
// requested quantity on the retirement transaction.
type CreditStatus string

const (
	CreditStatusActive      CreditStatus = "active"
	CreditStatusTransferred CreditStatus = "transferred"
	CreditStatusRetired     CreditStatus = "retired"
)

// AnchorInfo holds the on-chain identity of an anchored credit.
// All fields are set together when the mint lands.
type AnchorInfo struct {
	PolicyID   string
	AssetName  string
	MintTxHash string
	Metadata   string // on-chain metadata blob as submitted, for audits
}

// CreditEntry is the ledger row for one issued batch of credits.
// Owned exclusively by the ledger store; mutations happen only inside a
// locked transaction.
type CreditEntry struct {
	ID           id.CreditID
	Serial       string
	ProjectID    id.ProjectID
	OwnerID      id.UserID
	Quantity     decimal.Decimal
	Vintage      int
	Status       CreditStatus
	IssuedAt     time.Time
	LastActionAt time.Time
	Anchor       *AnchorInfo
}

// NewCreditEntry builds an active credit entry, enforcing issuance invariants.
func NewCreditEntry(creditID id.CreditID, serial string, projectID id.ProjectID, ownerID id.UserID, quantity decimal.Decimal, vintage int, now time.Time) (*CreditEntry, error) {
	if creditID.IsNil() || projectID.IsNil() || ownerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "credit, project and owner ids are required")
	}
	if !quantity.IsPositive() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "quantity must be greater than zero")
	}
	if _, err := ParseSerial(serial); err != nil {
		return nil, err
	}
	return &CreditEntry{
		ID:           creditID,
		Serial:       serial,
		ProjectID:    projectID,
		OwnerID:      ownerID,
		Quantity:     quantity,
		Vintage:      vintage,
		Status:       CreditStatusActive,
		IssuedAt:     now,
		LastActionAt: now,
	}, nil
}

// IsAnchored reports whether the credit has a native token on chain.
func (c *CreditEntry) IsAnchored() bool {
	return c.Anchor != nil && c.Anchor.MintTxHash != ""
}

// CanTransfer validates a transfer of quantity from sender.
// Transfer repeats while the credit is alive; only retirement ends it.
func (c *CreditEntry) CanTransfer(sender id.UserID, quantity decimal.Decimal) error {
	if c.Status == CreditStatusRetired {
		return dErrors.New(dErrors.CodeConflict, "credit is retired")
	}
	if c.OwnerID != sender {
		return dErrors.New(dErrors.CodeUnauthorized, "sender does not own this credit")
	}
	if !quantity.IsPositive() {
		return dErrors.New(dErrors.CodeInvalidInput, "transfer quantity must be greater than zero")
	}
	if quantity.GreaterThan(c.Quantity) {
		return dErrors.New(dErrors.CodeInvalidInput, "transfer quantity exceeds owned amount")
	}
	return nil
}

// ApplyTransfer moves ownership to recipient. Quantity is untouched.
func (c *CreditEntry) ApplyTransfer(recipient id.UserID, now time.Time) {
	c.OwnerID = recipient
	c.Status = CreditStatusTransferred
	c.LastActionAt = now
}

// CanRetire validates a retirement of quantity by owner.
func (c *CreditEntry) CanRetire(owner id.UserID, quantity decimal.Decimal, reason string) error {
	if c.Status == CreditStatusRetired {
		return dErrors.New(dErrors.CodeConflict, "credit is already retired")
	}
	if c.OwnerID != owner {
		return dErrors.New(dErrors.CodeUnauthorized, "only the owner can retire this credit")
	}
	if reason == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "retirement reason is required")
	}
	if !quantity.IsPositive() {
		return dErrors.New(dErrors.CodeInvalidInput, "retirement quantity must be greater than zero")
	}
	if quantity.GreaterThan(c.Quantity) {
		return dErrors.New(dErrors.CodeInvalidInput, "retirement quantity exceeds owned amount")
	}
	return nil
}

// ApplyRetirement marks the credit retired. Terminal.
func (c *CreditEntry) ApplyRetirement(now time.Time) {
	c.Status = CreditStatusRetired
	c.LastActionAt = now
}

// ApplyAnchor records the on-chain identity after a successful mint.
func (c *CreditEntry) ApplyAnchor(anchor AnchorInfo, now time.Time) {
	c.Anchor = &anchor
	c.LastActionAt = now
}

// Clone returns a deep copy so the in-memory store can hand out snapshots
// and roll back failed mutations.
func (c *CreditEntry) Clone() *CreditEntry {
	cp := *c
	if c.Anchor != nil {
		a := *c.Anchor
		cp.Anchor = &a
	}
	return &cp
}
