package anchor

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampMetaString(t *testing.T) {
	t.Run("short strings pass through", func(t *testing.T) {
		assert.Equal(t, "Verra Reforestation", ClampMetaString("Verra Reforestation"))
		assert.Equal(t, strings.Repeat("a", 64), ClampMetaString(strings.Repeat("a", 64)))
	})

	t.Run("long strings truncate to the byte limit", func(t *testing.T) {
		out := ClampMetaString(strings.Repeat("a", 100))
		assert.LessOrEqual(t, len(out), 64)
		assert.True(t, strings.HasSuffix(out, "…"))
	})

	t.Run("multibyte runes never split", func(t *testing.T) {
		// 40 two-byte runes is 80 bytes; a naive byte cut at 61 would land
		// mid-rune.
		out := ClampMetaString(strings.Repeat("ä", 40))
		assert.LessOrEqual(t, len(out), 64)
		assert.True(t, utf8.ValidString(out))
		assert.True(t, strings.HasSuffix(out, "…"))
	})
}

func TestTokenMetadataShape(t *testing.T) {
	md := tokenMetadata("policy-1", "61736574", TokenProvenance{
		Name:           "KRB-2025-001-000001",
		ProjectID:      "project-1",
		ProjectName:    strings.Repeat("Reforestation ", 10),
		Vintage:        2025,
		VerificationID: "verification-1",
		Registry:       "karbon",
	})

	label, ok := md["721"].(map[string]any)
	require.True(t, ok)
	byPolicy, ok := label["policy-1"].(map[string]any)
	require.True(t, ok)
	fields, ok := byPolicy["61736574"].(map[string]any)
	require.True(t, ok)

	assert.Equal(t, "KRB-2025-001-000001", fields["name"])
	assert.Equal(t, "2025", fields["vintage"], "numbers are rendered as strings")
	assert.LessOrEqual(t, len(fields["projectName"].(string)), 64)
}

func TestMemoMetadataShape(t *testing.T) {
	md := memoMetadata([]string{"karbon transfer", strings.Repeat("x", 80)})

	label, ok := md["674"].(map[string]any)
	require.True(t, ok)
	lines, ok := label["msg"].([]string)
	require.True(t, ok)
	require.Len(t, lines, 2)
	assert.Equal(t, "karbon transfer", lines[0])
	assert.LessOrEqual(t, len(lines[1]), 64)
}
