package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	raw := uuid.NewString()

	creditID, err := ParseCreditID(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, creditID.String())

	projectID, err := ParseProjectID(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, projectID.String())

	userID, err := ParseUserID(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, userID.String())

	verificationID, err := ParseVerificationID(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, verificationID.String())
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "not-a-uuid", "12345"} {
		_, err := ParseCreditID(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestNilChecks(t *testing.T) {
	assert.True(t, CreditID{}.IsNil())
	assert.False(t, NewCreditID().IsNil())
	assert.True(t, TransactionID{}.IsNil())
	assert.False(t, NewTransactionID().IsNil())
}
