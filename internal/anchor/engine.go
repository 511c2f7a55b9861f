// Package anchor mints, transfers and burns the native tokens that anchor
// credits on the external ledger network.
package anchor

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/blake2b"

	"karbon/internal/anchor/chain"
	"karbon/internal/anchor/wallet"
	"karbon/internal/chainio/gate"
	"karbon/internal/chainio/retry"
	"karbon/internal/credit/models"
	"karbon/internal/monitor"
	id "karbon/pkg/domain"
)

// tokenDecimals is the on-chain precision of credit tokens: one base unit is
// one millionth of a credit, matching the ledger's NUMERIC(20,6).
const tokenDecimals = 6

// maxAssetNameBytes is the network's cap on asset name length.
const maxAssetNameBytes = 32

// MintingLedger is the slice of the ledger store the engine needs: minting
// records keyed by token class.
type MintingLedger interface {
	CreateMinting(ctx context.Context, mint *models.MintingTransaction) error
	FindMinting(ctx context.Context, projectID id.ProjectID, policyID, assetName string) (*models.MintingTransaction, error)
}

// Engine anchors credits as native tokens. All network calls go through the
// submission gate and the retry handler.
type Engine struct {
	chain    chain.Client
	wallet   *wallet.Wallet
	retrier  *retry.Handler
	gate     gate.Gate
	mints    MintingLedger
	monitor  *monitor.Monitor
	logger   *slog.Logger
	registry string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMonitor wires the operations monitor.
func WithMonitor(m *monitor.Monitor) Option {
	return func(e *Engine) { e.monitor = m }
}

// WithRegistryName sets the registry identity embedded in token metadata.
func WithRegistryName(name string) Option {
	return func(e *Engine) {
		if name != "" {
			e.registry = name
		}
	}
}

// NewEngine constructs the anchoring engine.
func NewEngine(chainClient chain.Client, w *wallet.Wallet, retrier *retry.Handler, g gate.Gate, mints MintingLedger, opts ...Option) *Engine {
	e := &Engine{
		chain:    chainClient,
		wallet:   w,
		retrier:  retrier,
		gate:     g,
		mints:    mints,
		logger:   slog.Default(),
		registry: "Karbon Registry",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreatePolicy builds a minting authority. A nil config yields the default
// single-signature policy bound to the custodial key.
func (e *Engine) CreatePolicy(cfg *PolicyConfig) (Policy, error) {
	return NewPolicy(e.wallet.KeyHash(), cfg)
}

// AssetNameFromSerial derives the token asset name from a credit serial.
// Hex-encoding the serial itself would overflow the network's 32-byte name
// cap, so the name is the hex of a 16-byte digest of the serial: fixed
// width, deterministic, always inside the cap. The full serial rides in the
// token metadata's name field.
func AssetNameFromSerial(serial string) string {
	sum := blake2b.Sum256([]byte(serial))
	return hex.EncodeToString(sum[:maxAssetNameBytes/2])
}

// MintParams carries everything needed to anchor one credit entry.
type MintParams struct {
	CreditID       id.CreditID
	ProjectID      id.ProjectID
	ProjectName    string
	Serial         string
	Vintage        int
	VerificationID string
	Quantity       decimal.Decimal
}

// MintResult is the on-chain identity of a fresh anchor.
type MintResult struct {
	TxHash    string
	PolicyID  string
	AssetName string
	Metadata  string
}

// MintAndSend mints quantity units of the credit's token and sends them to
// recipientAddress with structured provenance metadata, then persists the
// minting record including the policy script needed for a later burn.
func (e *Engine) MintAndSend(ctx context.Context, params MintParams, recipientAddress string) (result *MintResult, err error) {
	start := time.Now()
	defer func() { e.record(monitor.OpMint, params.CreditID.String(), start, err) }()

	if recipientAddress == "" {
		return nil, chain.Permanent(fmt.Errorf("recipient address is required"))
	}
	units, err := tokenUnits(params.Quantity)
	if err != nil {
		return nil, err
	}

	policy, err := e.CreatePolicy(nil)
	if err != nil {
		return nil, err
	}
	assetName := AssetNameFromSerial(params.Serial)
	assetKey := chain.AssetKey(policy.ID, assetName)

	md := tokenMetadata(policy.ID, assetName, TokenProvenance{
		Name:           params.Serial,
		ProjectID:      params.ProjectID.String(),
		ProjectName:    params.ProjectName,
		Vintage:        params.Vintage,
		VerificationID: params.VerificationID,
		Registry:       e.registry,
	})
	mdBlob, err := encodeMetadata(md)
	if err != nil {
		return nil, err
	}

	pp, utxos, err := e.fetchChainState(ctx, params.CreditID.String())
	if err != nil {
		return nil, err
	}

	built, err := buildTx(e.wallet, pp, utxos,
		[]txOutput{{
			Address: recipientAddress,
			Value:   chain.Value{Coin: pp.MinOutput, Assets: map[string]int64{assetKey: units}},
		}},
		map[string]int64{assetKey: units},
		&policy.Script,
		md,
	)
	if err != nil {
		return nil, err
	}

	txHash, err := e.submit(ctx, "mint credit token", params.CreditID.String(), built)
	if err != nil {
		return nil, err
	}

	script, err := policy.Script.Canonical()
	if err != nil {
		return nil, err
	}
	mint, err := models.NewMintingTransaction(txHash, params.CreditID, params.ProjectID,
		policy.ID, assetName, params.Quantity, models.MintOperationMint, script, time.Now())
	if err != nil {
		return nil, err
	}
	if err := e.mints.CreateMinting(ctx, mint); err != nil {
		// The token exists on chain; losing the record would orphan it.
		return nil, fmt.Errorf("persist minting record for %s: %w", txHash, err)
	}

	e.logger.Info("minted credit token",
		"credit_id", params.CreditID, "policy_id", policy.ID, "asset_name", assetName, "tx_hash", txHash)
	return &MintResult{TxHash: txHash, PolicyID: policy.ID, AssetName: assetName, Metadata: mdBlob}, nil
}

// TransferAsset moves already-minted units to a new holder. No new policy is
// required; the tokens flow from the custodial wallet's inputs.
func (e *Engine) TransferAsset(ctx context.Context, creditID id.CreditID, policyID, assetName string, quantity decimal.Decimal, recipientAddress string) (txHash string, err error) {
	start := time.Now()
	defer func() { e.record(monitor.OpTransfer, creditID.String(), start, err) }()

	if recipientAddress == "" {
		return "", chain.Permanent(fmt.Errorf("recipient address is required"))
	}
	units, err := tokenUnits(quantity)
	if err != nil {
		return "", err
	}
	assetKey := chain.AssetKey(policyID, assetName)

	pp, utxos, err := e.fetchChainState(ctx, creditID.String())
	if err != nil {
		return "", err
	}

	built, err := buildTx(e.wallet, pp, utxos,
		[]txOutput{{
			Address: recipientAddress,
			Value:   chain.Value{Coin: pp.MinOutput, Assets: map[string]int64{assetKey: units}},
		}},
		nil, nil, nil,
	)
	if err != nil {
		return "", err
	}

	txHash, err = e.submit(ctx, "transfer credit token", creditID.String(), built)
	if err != nil {
		return "", err
	}
	e.logger.Info("transferred credit token",
		"credit_id", creditID, "policy_id", policyID, "asset_name", assetName, "tx_hash", txHash)
	return txHash, nil
}

// BurnParams identifies the token class to burn.
type BurnParams struct {
	CreditID  id.CreditID
	ProjectID id.ProjectID
	PolicyID  string
	AssetName string
	Quantity  decimal.Decimal
}

// BurnAsset recovers the original policy script from the minting record and
// submits a negative-quantity mint under the same authority.
func (e *Engine) BurnAsset(ctx context.Context, params BurnParams) (txHash string, err error) {
	start := time.Now()
	defer func() { e.record(monitor.OpBurn, params.CreditID.String(), start, err) }()

	units, err := tokenUnits(params.Quantity)
	if err != nil {
		return "", err
	}

	original, err := e.mints.FindMinting(ctx, params.ProjectID, params.PolicyID, params.AssetName)
	if err != nil {
		return "", fmt.Errorf("recover policy script for burn: %w", err)
	}
	script, err := ParseScript(original.PolicyScript)
	if err != nil {
		return "", err
	}
	assetKey := chain.AssetKey(params.PolicyID, params.AssetName)

	pp, utxos, err := e.fetchChainState(ctx, params.CreditID.String())
	if err != nil {
		return "", err
	}

	built, err := buildTx(e.wallet, pp, utxos, nil,
		map[string]int64{assetKey: -units},
		&script, nil,
	)
	if err != nil {
		return "", err
	}

	txHash, err = e.submit(ctx, "burn credit token", params.CreditID.String(), built)
	if err != nil {
		return "", err
	}

	burn, err := models.NewMintingTransaction(txHash, params.CreditID, params.ProjectID,
		params.PolicyID, params.AssetName, params.Quantity, models.MintOperationBurn, original.PolicyScript, time.Now())
	if err != nil {
		return "", err
	}
	if err := e.mints.CreateMinting(ctx, burn); err != nil {
		return "", fmt.Errorf("persist burn record for %s: %w", txHash, err)
	}

	e.logger.Info("burned credit token",
		"credit_id", params.CreditID, "policy_id", params.PolicyID, "asset_name", params.AssetName, "tx_hash", txHash)
	return txHash, nil
}

// fetchChainState reads protocol parameters and custodial inputs through the
// retry handler.
func (e *Engine) fetchChainState(ctx context.Context, creditID string) (*chain.ProtocolParams, []chain.UTxO, error) {
	var pp *chain.ProtocolParams
	if _, err := e.retrier.Execute(ctx, retry.Operation{
		Name:     "fetch protocol parameters",
		Kind:     retry.KindQuery,
		CreditID: creditID,
		Do: func(ctx context.Context) (string, error) {
			var err error
			pp, err = e.chain.ProtocolParams(ctx)
			return "", err
		},
	}); err != nil {
		return nil, nil, err
	}

	var utxos []chain.UTxO
	if _, err := e.retrier.Execute(ctx, retry.Operation{
		Name:     "fetch custodial inputs",
		Kind:     retry.KindQuery,
		CreditID: creditID,
		Do: func(ctx context.Context) (string, error) {
			var err error
			utxos, err = e.chain.UTxOs(ctx, e.wallet.Address())
			return "", err
		},
	}); err != nil {
		return nil, nil, err
	}
	return pp, utxos, nil
}

// submit pushes a built transaction through the gate and the retry handler.
func (e *Engine) submit(ctx context.Context, name, creditID string, built *builtTx) (string, error) {
	return e.retrier.Execute(ctx, retry.Operation{
		Name:          name,
		Kind:          retry.KindSubmission,
		CreditID:      creditID,
		SignedPayload: built.Payload,
		Do: func(ctx context.Context) (string, error) {
			if err := e.gate.Allow(ctx); err != nil {
				return "", err
			}
			return e.chain.Submit(ctx, built.Payload)
		},
	})
}

func (e *Engine) record(op monitor.OpType, creditID string, start time.Time, err error) {
	if e.monitor == nil {
		return
	}
	sample := monitor.Sample{
		Type:     op,
		Success:  err == nil,
		Duration: time.Since(start),
		CreditID: creditID,
	}
	if err != nil {
		sample.Error = err.Error()
	}
	e.monitor.Record(sample)
}

// tokenUnits converts a ledger quantity to integral on-chain base units.
func tokenUnits(quantity decimal.Decimal) (int64, error) {
	if !quantity.IsPositive() {
		return 0, chain.Permanent(fmt.Errorf("token quantity must be positive"))
	}
	shifted := quantity.Shift(tokenDecimals)
	if !shifted.IsInteger() {
		return 0, chain.Permanent(fmt.Errorf("token quantity has more than %d decimal places", tokenDecimals))
	}
	return shifted.IntPart(), nil
}
