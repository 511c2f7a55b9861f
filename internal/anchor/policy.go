package anchor

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"

	dErrors "karbon/pkg/domain-errors"
)

// Script is the minting authority rule for an asset class. It mirrors the
// network's simple-script language: signature requirements optionally
// composed with time bounds and all-of/any-of groups.
type Script struct {
	Type    string   `json:"type"` // sig | before | after | all | any
	KeyHash string   `json:"keyHash,omitempty"`
	Slot    int64    `json:"slot,omitempty"`
	Scripts []Script `json:"scripts,omitempty"`
}

// Policy is a script plus its canonical hash, which doubles as the asset
// class identity on chain.
type Policy struct {
	Script Script
	ID     string
}

// PolicyConfig selects a non-default policy shape. The zero value yields a
// single-signature policy bound to the service's custodial key.
type PolicyConfig struct {
	// ExpireAfterSlot time-locks minting: no mints or burns past this slot.
	ExpireAfterSlot int64
	// ExtraKeyHashes adds co-signers.
	ExtraKeyHashes []string
	// RequireAll demands every signer; otherwise any one signer suffices.
	RequireAll bool
}

// NewPolicy builds a policy for the given custodial key hash.
func NewPolicy(custodialKeyHash string, cfg *PolicyConfig) (Policy, error) {
	if custodialKeyHash == "" {
		return Policy{}, dErrors.New(dErrors.CodeInvalidInput, "custodial key hash is required")
	}
	script := Script{Type: "sig", KeyHash: custodialKeyHash}

	if cfg != nil {
		if len(cfg.ExtraKeyHashes) > 0 {
			group := Script{Type: "any"}
			if cfg.RequireAll {
				group.Type = "all"
			}
			group.Scripts = append(group.Scripts, script)
			for _, kh := range cfg.ExtraKeyHashes {
				if kh == "" {
					return Policy{}, dErrors.New(dErrors.CodeInvalidInput, "extra key hashes must not be empty")
				}
				group.Scripts = append(group.Scripts, Script{Type: "sig", KeyHash: kh})
			}
			script = group
		}
		if cfg.ExpireAfterSlot > 0 {
			script = Script{
				Type: "all",
				Scripts: []Script{
					{Type: "before", Slot: cfg.ExpireAfterSlot},
					script,
				},
			}
		}
	}

	id, err := policyID(script)
	if err != nil {
		return Policy{}, err
	}
	return Policy{Script: script, ID: id}, nil
}

// ParseScript restores a policy script from its canonical JSON, as retained
// on the original minting record.
func ParseScript(canonical string) (Script, error) {
	var script Script
	if err := json.Unmarshal([]byte(canonical), &script); err != nil {
		return Script{}, fmt.Errorf("parse policy script: %w", err)
	}
	return script, nil
}

// Canonical returns the script's canonical JSON serialization. Struct field
// order is fixed, so marshaling is deterministic.
func (s Script) Canonical() (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("serialize policy script: %w", err)
	}
	return string(raw), nil
}

// policyID hashes the canonical script with blake2b-224.
func policyID(script Script) (string, error) {
	canonical, err := script.Canonical()
	if err != nil {
		return "", err
	}
	digest, err := blake2b.New(28, nil)
	if err != nil {
		return "", fmt.Errorf("init policy hash: %w", err)
	}
	digest.Write([]byte(canonical))
	return hex.EncodeToString(digest.Sum(nil)), nil
}
