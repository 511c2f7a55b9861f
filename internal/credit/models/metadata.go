package models

import (
	"encoding/json"
	"fmt"

	dErrors "karbon/pkg/domain-errors"
)

// Transaction metadata is a tagged union per transaction type plus a bounded
// extension map for forward compatibility, validated at construction.

const (
	maxExtensionKeys   = 16
	maxExtensionKeyLen = 64
)

// Extensions is a bounded free-form map carried alongside typed metadata.
type Extensions map[string]string

func (e Extensions) validate() error {
	if len(e) > maxExtensionKeys {
		return dErrors.Newf(dErrors.CodeInvalidInput, "metadata extensions limited to %d keys", maxExtensionKeys)
	}
	for k := range e {
		if len(k) == 0 || len(k) > maxExtensionKeyLen {
			return dErrors.Newf(dErrors.CodeInvalidInput, "metadata extension key %q must be 1-%d bytes", k, maxExtensionKeyLen)
		}
	}
	return nil
}

// TransactionMetadata is the tagged union over per-type metadata payloads.
type TransactionMetadata interface {
	Kind() TransactionType
	Validate() error
}

// IssuanceMetadata records how an issuance went, including whether the
// best-effort mint landed.
type IssuanceMetadata struct {
	Serial         string     `json:"serial"`
	Vintage        int        `json:"vintage"`
	VerificationID string     `json:"verification_id"`
	Anchored       bool       `json:"anchored"`
	AnchorError    string     `json:"anchor_error,omitempty"`
	Ext            Extensions `json:"ext,omitempty"`
}

func (m IssuanceMetadata) Kind() TransactionType { return TransactionTypeIssuance }

func (m IssuanceMetadata) Validate() error {
	if m.Serial == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "issuance metadata requires a serial")
	}
	return m.Ext.validate()
}

// TransferMetadata records the anchoring outcome of a transfer, including the
// best-effort audit memo hash when one was submitted.
type TransferMetadata struct {
	TokenMoved  bool       `json:"token_moved"`
	AuditTxHash string     `json:"audit_tx_hash,omitempty"`
	AuditError  string     `json:"audit_error,omitempty"`
	Ext         Extensions `json:"ext,omitempty"`
}

func (m TransferMetadata) Kind() TransactionType { return TransactionTypeTransfer }

func (m TransferMetadata) Validate() error { return m.Ext.validate() }

// RetirementMetadata records why and how a credit was retired.
type RetirementMetadata struct {
	Reason     string     `json:"reason"`
	BurnTxHash string     `json:"burn_tx_hash,omitempty"`
	Ext        Extensions `json:"ext,omitempty"`
}

func (m RetirementMetadata) Kind() TransactionType { return TransactionTypeRetirement }

func (m RetirementMetadata) Validate() error {
	if m.Reason == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "retirement metadata requires a reason")
	}
	return m.Ext.validate()
}

type metadataEnvelope struct {
	Kind TransactionType `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// MarshalMetadata serializes metadata with its kind tag for storage.
func MarshalMetadata(m TransactionMetadata) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return json.Marshal(metadataEnvelope{Kind: m.Kind(), Data: data})
}

// UnmarshalMetadata restores a tagged metadata payload.
func UnmarshalMetadata(raw []byte) (TransactionMetadata, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var env metadataEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unmarshal metadata envelope: %w", err)
	}
	switch env.Kind {
	case TransactionTypeIssuance:
		var m IssuanceMetadata
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("unmarshal issuance metadata: %w", err)
		}
		return m, nil
	case TransactionTypeTransfer:
		var m TransferMetadata
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("unmarshal transfer metadata: %w", err)
		}
		return m, nil
	case TransactionTypeRetirement:
		var m RetirementMetadata
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("unmarshal retirement metadata: %w", err)
		}
		return m, nil
	default:
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown metadata kind %q", env.Kind)
	}
}
