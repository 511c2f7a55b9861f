// Package chain defines the contract with the external ledger network.
//
// The network is a black box with a fetch/submit contract: fetch protocol
// parameters, fetch spendable inputs, submit a signed transaction, query
// confirmation status. Everything else (policies, signing, metadata) is
// built locally.
package chain

import "context"

// ProtocolParams are the network fee and output constraints current at
// submission time.
type ProtocolParams struct {
	// Linear fee: FeeFixed + FeePerByte * txSize, in base units.
	FeePerByte int64 `json:"fee_per_byte"`
	FeeFixed   int64 `json:"fee_fixed"`
	// MinOutput is the smallest base-unit value an output may carry.
	MinOutput int64 `json:"min_output"`
}

// Value is the funds carried by an output: base currency plus native tokens
// keyed by "policyID.assetName".
type Value struct {
	Coin   int64            `json:"coin"`
	Assets map[string]int64 `json:"assets,omitempty"`
}

// AssetKey builds the token-class key used in Value.Assets.
func AssetKey(policyID, assetName string) string {
	return policyID + "." + assetName
}

// UTxO is one spendable input held by an address.
type UTxO struct {
	TxHash string `json:"tx_hash"`
	Index  int    `json:"index"`
	Value  Value  `json:"value"`
}

// TxStatus is the confirmation state of a submitted transaction.
type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusRejected  TxStatus = "rejected"
	TxStatusUnknown   TxStatus = "unknown"
)

// Client is the read/submit API of the external ledger network.
type Client interface {
	// ProtocolParams fetches current network parameters.
	ProtocolParams(ctx context.Context) (*ProtocolParams, error)
	// UTxOs fetches the spendable inputs of an address.
	UTxOs(ctx context.Context, address string) ([]UTxO, error)
	// Submit broadcasts a signed transaction and returns its hash.
	Submit(ctx context.Context, signedTx []byte) (string, error)
	// Status queries the confirmation status of a transaction.
	Status(ctx context.Context, txHash string) (TxStatus, error)
}

// RetryableError marks a transient network failure worth retrying.
// Unavailable additionally flags the network itself as unreachable, which
// feeds the retry handler's fallback counter.
type RetryableError struct {
	Err         error
	Unavailable bool
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err as a transient failure.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// Unreachable wraps err as a network-unavailability failure.
func Unreachable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err, Unavailable: true}
}

// PermanentError marks a chain rejection that must never be retried:
// invalid policy, bad signature, malformed address.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a non-retryable chain rejection.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}
