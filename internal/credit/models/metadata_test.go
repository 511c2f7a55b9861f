package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataRoundTrip(t *testing.T) {
	t.Run("issuance", func(t *testing.T) {
		raw, err := MarshalMetadata(IssuanceMetadata{
			Serial:         "KRB-2025-001-000001",
			Vintage:        2025,
			VerificationID: "v-1",
			Anchored:       true,
			Ext:            Extensions{"registry": "karbon"},
		})
		require.NoError(t, err)

		meta, err := UnmarshalMetadata(raw)
		require.NoError(t, err)
		issuance, ok := meta.(IssuanceMetadata)
		require.True(t, ok)
		assert.Equal(t, TransactionTypeIssuance, issuance.Kind())
		assert.True(t, issuance.Anchored)
		assert.Equal(t, "karbon", issuance.Ext["registry"])
	})

	t.Run("retirement keeps burn hash", func(t *testing.T) {
		raw, err := MarshalMetadata(RetirementMetadata{Reason: "voluntary offset", BurnTxHash: "abc"})
		require.NoError(t, err)

		meta, err := UnmarshalMetadata(raw)
		require.NoError(t, err)
		retirement := meta.(RetirementMetadata)
		assert.Equal(t, "voluntary offset", retirement.Reason)
		assert.Equal(t, "abc", retirement.BurnTxHash)
	})

	t.Run("nil metadata stays nil", func(t *testing.T) {
		raw, err := MarshalMetadata(nil)
		require.NoError(t, err)
		assert.Nil(t, raw)

		meta, err := UnmarshalMetadata(nil)
		require.NoError(t, err)
		assert.Nil(t, meta)
	})

	t.Run("unknown kind rejected", func(t *testing.T) {
		_, err := UnmarshalMetadata([]byte(`{"kind":"mystery","data":{}}`))
		assert.Error(t, err)
	})
}

func TestMetadataValidation(t *testing.T) {
	t.Run("issuance requires serial", func(t *testing.T) {
		_, err := MarshalMetadata(IssuanceMetadata{Vintage: 2025})
		assert.Error(t, err)
	})

	t.Run("retirement requires reason", func(t *testing.T) {
		assert.Error(t, RetirementMetadata{}.Validate())
	})

	t.Run("extension map is bounded", func(t *testing.T) {
		ext := Extensions{}
		for i := 0; i < maxExtensionKeys+1; i++ {
			ext[strings.Repeat("k", i+1)] = "v"
		}
		assert.Error(t, TransferMetadata{Ext: ext}.Validate())

		assert.Error(t, TransferMetadata{Ext: Extensions{strings.Repeat("k", maxExtensionKeyLen+1): "v"}}.Validate())
		assert.NoError(t, TransferMetadata{Ext: Extensions{"ok": "v"}}.Validate())
	})
}
