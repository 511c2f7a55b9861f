// Package domain holds the typed identifiers shared across services.
//
// IDs are distinct named types over uuid.UUID so a CreditID can never be
// passed where a ProjectID is expected. Parsing enforces the invariant that
// IDs are valid, non-nil UUIDs at trust boundaries.
package domain

import (
	"github.com/google/uuid"

	dErrors "karbon/pkg/domain-errors"
)

type (
	// CreditID identifies a credit entry in the ledger.
	CreditID uuid.UUID
	// ProjectID identifies a carbon project.
	ProjectID uuid.UUID
	// UserID identifies a registry account (developer or buyer).
	UserID uuid.UUID
	// VerificationID identifies the verification report that backed an issuance.
	VerificationID uuid.UUID
	// TransactionID identifies an append-only credit transaction record.
	TransactionID uuid.UUID
)

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id is not a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be the nil UUID")
	}
	return u, nil
}

// ParseCreditID validates and returns a CreditID.
func ParseCreditID(s string) (CreditID, error) {
	u, err := parseUUID(s)
	return CreditID(u), err
}

// ParseProjectID validates and returns a ProjectID.
func ParseProjectID(s string) (ProjectID, error) {
	u, err := parseUUID(s)
	return ProjectID(u), err
}

// ParseUserID validates and returns a UserID.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s)
	return UserID(u), err
}

// ParseVerificationID validates and returns a VerificationID.
func ParseVerificationID(s string) (VerificationID, error) {
	u, err := parseUUID(s)
	return VerificationID(u), err
}

func (id CreditID) String() string       { return uuid.UUID(id).String() }
func (id ProjectID) String() string      { return uuid.UUID(id).String() }
func (id UserID) String() string         { return uuid.UUID(id).String() }
func (id VerificationID) String() string { return uuid.UUID(id).String() }
func (id TransactionID) String() string  { return uuid.UUID(id).String() }

func (id CreditID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id ProjectID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id UserID) IsNil() bool         { return uuid.UUID(id) == uuid.Nil }
func (id VerificationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id TransactionID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }

// NewCreditID returns a fresh random CreditID.
func NewCreditID() CreditID { return CreditID(uuid.New()) }

// NewTransactionID returns a fresh random TransactionID.
func NewTransactionID() TransactionID { return TransactionID(uuid.New()) }
