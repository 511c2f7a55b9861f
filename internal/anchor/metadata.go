package anchor

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// The network caps metadata string fields at 64 UTF-8 bytes. Longer values
// are truncated at a whole-codepoint boundary with a trailing ellipsis.

const (
	metadataStringLimit = 64
	// tokenMetadataLabel is the network's token-metadata convention.
	tokenMetadataLabel = "721"
	// memoMetadataLabel is the free-form message convention used by audit
	// memo transactions.
	memoMetadataLabel = "674"
)

const ellipsis = "…" // 3 bytes

// ClampMetaString enforces the 64-byte field limit.
func ClampMetaString(s string) string {
	if len(s) <= metadataStringLimit {
		return s
	}
	budget := metadataStringLimit - len(ellipsis)
	cut := budget
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + ellipsis
}

// TokenProvenance is the structured provenance attached to a mint.
type TokenProvenance struct {
	Name           string
	ProjectID      string
	ProjectName    string
	Vintage        int
	VerificationID string
	Registry       string
}

// tokenMetadata renders provenance under the token-metadata convention:
// label -> policy id -> asset name -> fields.
func tokenMetadata(policyID, assetName string, p TokenProvenance) map[string]any {
	fields := map[string]any{
		"name":         ClampMetaString(p.Name),
		"project":      ClampMetaString(p.ProjectID),
		"projectName":  ClampMetaString(p.ProjectName),
		"vintage":      fmt.Sprintf("%d", p.Vintage),
		"verification": ClampMetaString(p.VerificationID),
		"registry":     ClampMetaString(p.Registry),
	}
	return map[string]any{
		tokenMetadataLabel: map[string]any{
			policyID: map[string]any{
				assetName: fields,
			},
		},
	}
}

// memoMetadata renders a best-effort audit memo under the message
// convention. Each line is clamped to the field limit.
func memoMetadata(lines []string) map[string]any {
	clamped := make([]string, 0, len(lines))
	for _, l := range lines {
		clamped = append(clamped, ClampMetaString(l))
	}
	return map[string]any{
		memoMetadataLabel: map[string]any{"msg": clamped},
	}
}

// encodeMetadata renders the metadata map for storage on the credit entry.
func encodeMetadata(md map[string]any) (string, error) {
	raw, err := json.Marshal(md)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(raw), nil
}
