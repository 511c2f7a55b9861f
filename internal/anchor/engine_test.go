package anchor

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"karbon/internal/anchor/chain"
	"karbon/internal/anchor/wallet"
	"karbon/internal/chainio/gate"
	"karbon/internal/chainio/retry"
	"karbon/internal/credit/models"
	"karbon/internal/monitor"
	"karbon/internal/platform/config"
	id "karbon/pkg/domain"
	"karbon/pkg/platform/sentinel"
)

const testPhrase = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

type fakeChain struct {
	pp        *chain.ProtocolParams
	utxos     []chain.UTxO
	submitErr error
	submitted [][]byte
}

func (f *fakeChain) ProtocolParams(context.Context) (*chain.ProtocolParams, error) {
	return f.pp, nil
}

func (f *fakeChain) UTxOs(context.Context, string) ([]chain.UTxO, error) {
	return f.utxos, nil
}

func (f *fakeChain) Submit(_ context.Context, signedTx []byte) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, signedTx)
	return fmt.Sprintf("tx-%d", len(f.submitted)), nil
}

func (f *fakeChain) Status(context.Context, string) (chain.TxStatus, error) {
	return chain.TxStatusConfirmed, nil
}

func (f *fakeChain) lastTx(t *suite.Suite) signedTx {
	t.Require().NotEmpty(f.submitted)
	var tx signedTx
	t.Require().NoError(json.Unmarshal(f.submitted[len(f.submitted)-1], &tx))
	return tx
}

type fakeMints struct {
	records []*models.MintingTransaction
}

func (f *fakeMints) CreateMinting(_ context.Context, mint *models.MintingTransaction) error {
	f.records = append(f.records, mint)
	return nil
}

func (f *fakeMints) FindMinting(_ context.Context, projectID id.ProjectID, policyID, assetName string) (*models.MintingTransaction, error) {
	for _, r := range f.records {
		if r.ProjectID == projectID && r.PolicyID == policyID && r.AssetName == assetName && r.Operation == models.MintOperationMint {
			return r, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

type EngineSuite struct {
	suite.Suite
	ctx     context.Context
	chain   *fakeChain
	mints   *fakeMints
	wallet  *wallet.Wallet
	monitor *monitor.Monitor
	engine  *Engine
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.ctx = context.Background()
	s.chain = &fakeChain{
		pp: &chain.ProtocolParams{FeePerByte: 1, FeeFixed: 100, MinOutput: 1000},
		utxos: []chain.UTxO{
			{TxHash: "genesis", Index: 0, Value: chain.Value{Coin: 50_000_000}},
		},
	}
	s.mints = &fakeMints{}

	w, err := wallet.NewFromPhrase(testPhrase, "test")
	s.Require().NoError(err)
	s.wallet = w

	s.monitor = monitor.New(prometheus.NewRegistry())
	retrier := retry.New(retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
	submissionGate := gate.NewMemory(config.GateConfig{RequestsPerWindow: 100, Window: time.Hour})
	s.engine = NewEngine(s.chain, w, retrier, submissionGate, s.mints,
		WithMonitor(s.monitor), WithRegistryName("Karbon Test Registry"))
}

func (s *EngineSuite) mintParams() MintParams {
	return MintParams{
		CreditID:       id.NewCreditID(),
		ProjectID:      id.ProjectID(uuid.New()),
		ProjectName:    "Reforestation Alpha",
		Serial:         "KRB-2025-001-000001",
		Vintage:        2025,
		VerificationID: "verification-1",
		Quantity:       decimal.NewFromInt(500),
	}
}

func TestAssetNameFromSerial(t *testing.T) {
	name := AssetNameFromSerial("KRB-2025-001-000001")
	if len(name) > maxAssetNameBytes {
		t.Fatalf("asset name %q is %d bytes, network cap is %d", name, len(name), maxAssetNameBytes)
	}
	if _, err := hex.DecodeString(name); err != nil {
		t.Fatalf("asset name %q is not hex: %v", name, err)
	}
	if name != AssetNameFromSerial("KRB-2025-001-000001") {
		t.Fatal("derivation must be deterministic")
	}
	if name == AssetNameFromSerial("KRB-2025-001-000002") {
		t.Fatal("distinct serials must yield distinct asset names")
	}
	if long := AssetNameFromSerial("KRB-2025-999-999999-extended-registry-suffix"); len(long) > maxAssetNameBytes {
		t.Fatalf("long serial yields %d bytes, network cap is %d", len(long), maxAssetNameBytes)
	}
}

func (s *EngineSuite) TestMintAndSend() {
	params := s.mintParams()
	result, err := s.engine.MintAndSend(s.ctx, params, "addr_test1recipient")
	s.Require().NoError(err)
	s.Equal("tx-1", result.TxHash)
	s.Len(result.PolicyID, 56)
	s.Equal(AssetNameFromSerial(params.Serial), result.AssetName)
	s.Contains(result.Metadata, `"721"`)

	assetKey := chain.AssetKey(result.PolicyID, result.AssetName)
	tx := s.chain.lastTx(&s.Suite)
	s.Equal(int64(500_000_000), tx.Body.Mint[assetKey], "500 credits at 6 decimals")
	s.Require().NotNil(tx.Body.Script)
	s.Equal("sig", tx.Body.Script.Type)

	s.Run("payment output carries the tokens", func() {
		s.Require().NotEmpty(tx.Body.Outputs)
		payment := tx.Body.Outputs[0]
		s.Equal("addr_test1recipient", payment.Address)
		s.Equal(s.chain.pp.MinOutput, payment.Value.Coin)
		s.Equal(int64(500_000_000), payment.Value.Assets[assetKey])
	})

	s.Run("signature verifies against the custodial key", func() {
		s.Equal(s.wallet.PublicKey(), tx.PublicKey)
	})

	s.Run("minting record retains the policy script", func() {
		record, err := s.mints.FindMinting(s.ctx, params.ProjectID, result.PolicyID, result.AssetName)
		s.Require().NoError(err)
		s.Equal(result.TxHash, record.TxHash)

		script, err := ParseScript(record.PolicyScript)
		s.Require().NoError(err)
		restored, err := policyID(script)
		s.Require().NoError(err)
		s.Equal(result.PolicyID, restored)
	})

	s.Run("monitor sees a successful mint", func() {
		s.Equal(1, s.monitor.Stats().ByType[monitor.OpMint].Successes)
	})
}

func (s *EngineSuite) TestMintValidation() {
	s.Run("missing recipient", func() {
		_, err := s.engine.MintAndSend(s.ctx, s.mintParams(), "")
		var pe *chain.PermanentError
		s.Require().ErrorAs(err, &pe)
		s.Empty(s.chain.submitted)
	})

	s.Run("non-positive quantity", func() {
		params := s.mintParams()
		params.Quantity = decimal.Zero
		_, err := s.engine.MintAndSend(s.ctx, params, "addr_test1recipient")
		var pe *chain.PermanentError
		s.Require().ErrorAs(err, &pe)
	})

	s.Run("sub-unit precision", func() {
		params := s.mintParams()
		params.Quantity = decimal.RequireFromString("0.1234567")
		_, err := s.engine.MintAndSend(s.ctx, params, "addr_test1recipient")
		var pe *chain.PermanentError
		s.Require().ErrorAs(err, &pe)
	})
}

func (s *EngineSuite) TestTransferAsset() {
	params := s.mintParams()
	minted, err := s.engine.MintAndSend(s.ctx, params, s.wallet.Address())
	s.Require().NoError(err)

	assetKey := chain.AssetKey(minted.PolicyID, minted.AssetName)
	s.chain.utxos = append(s.chain.utxos, chain.UTxO{
		TxHash: minted.TxHash, Index: 0,
		Value: chain.Value{Coin: 1000, Assets: map[string]int64{assetKey: 500_000_000}},
	})

	hash, err := s.engine.TransferAsset(s.ctx, params.CreditID, minted.PolicyID, minted.AssetName,
		decimal.NewFromInt(200), "addr_test1newholder")
	s.Require().NoError(err)
	s.Equal("tx-2", hash)

	tx := s.chain.lastTx(&s.Suite)
	s.Empty(tx.Body.Mint, "transfers move existing tokens, never mint")
	s.Nil(tx.Body.Script)
	s.Equal(int64(200_000_000), tx.Body.Outputs[0].Value.Assets[assetKey])

	s.Run("change returns the rest to the custodial wallet", func() {
		change := tx.Body.Outputs[len(tx.Body.Outputs)-1]
		s.Equal(s.wallet.Address(), change.Address)
		s.Equal(int64(300_000_000), change.Value.Assets[assetKey])
	})
}

func (s *EngineSuite) TestBurnAsset() {
	params := s.mintParams()
	minted, err := s.engine.MintAndSend(s.ctx, params, s.wallet.Address())
	s.Require().NoError(err)

	assetKey := chain.AssetKey(minted.PolicyID, minted.AssetName)
	s.chain.utxos = append(s.chain.utxos, chain.UTxO{
		TxHash: minted.TxHash, Index: 0,
		Value: chain.Value{Coin: 1000, Assets: map[string]int64{assetKey: 500_000_000}},
	})

	hash, err := s.engine.BurnAsset(s.ctx, BurnParams{
		CreditID:  params.CreditID,
		ProjectID: params.ProjectID,
		PolicyID:  minted.PolicyID,
		AssetName: minted.AssetName,
		Quantity:  decimal.NewFromInt(500),
	})
	s.Require().NoError(err)
	s.Equal("tx-2", hash)

	tx := s.chain.lastTx(&s.Suite)
	s.Equal(int64(-500_000_000), tx.Body.Mint[assetKey])
	s.Require().NotNil(tx.Body.Script, "the burn re-presents the original minting authority")

	s.Run("burn record persisted", func() {
		var burn *models.MintingTransaction
		for _, r := range s.mints.records {
			if r.Operation == models.MintOperationBurn {
				burn = r
			}
		}
		s.Require().NotNil(burn)
		s.Equal(hash, burn.TxHash)
		s.Equal(minted.PolicyID, burn.PolicyID)
	})
}

func (s *EngineSuite) TestBurnWithoutMintingRecord() {
	params := s.mintParams()
	_, err := s.engine.BurnAsset(s.ctx, BurnParams{
		CreditID:  params.CreditID,
		ProjectID: params.ProjectID,
		PolicyID:  "unknown-policy",
		AssetName: "unknown-asset",
		Quantity:  decimal.NewFromInt(1),
	})
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
	s.Empty(s.chain.submitted)
}

func (s *EngineSuite) TestSubmitMemo() {
	memo := AuditMemo{
		CreditID: "credit-1",
		Serial:   "KRB-2025-001-000001",
		Action:   "transfer",
		Detail:   "quantity 200",
	}
	hash, err := s.engine.SubmitMemo(s.ctx, memo)
	s.Require().NoError(err)
	s.Equal("tx-1", hash)

	tx := s.chain.lastTx(&s.Suite)
	s.Empty(tx.Body.Mint, "memos never touch token supply")
	s.Contains(tx.Body.Metadata, "674")

	s.Run("memo outcomes stay off the monitor", func() {
		s.Empty(s.monitor.Stats().ByType)
	})

	s.Run("failed memos leave the monitor untouched", func() {
		s.chain.submitErr = chain.Permanent(errors.New("rejected by validator"))
		_, err := s.engine.SubmitMemo(s.ctx, memo)
		s.Require().Error(err)
		s.Empty(s.monitor.RecentFailures(10))
	})
}

func (s *EngineSuite) TestInsufficientFunds() {
	s.chain.utxos = []chain.UTxO{{TxHash: "dust", Index: 0, Value: chain.Value{Coin: 10}}}

	_, err := s.engine.MintAndSend(s.ctx, s.mintParams(), "addr_test1recipient")
	var pe *chain.PermanentError
	s.Require().ErrorAs(err, &pe)
	s.Empty(s.chain.submitted)

	s.Run("monitor sees the failure", func() {
		failures := s.monitor.RecentFailures(10)
		s.Require().Len(failures, 1)
		s.Equal(monitor.OpMint, failures[0].Type)
		s.Contains(failures[0].Error, "insufficient funds")
	})
}

func (s *EngineSuite) TestSubmissionFailureExhaustsAndQueues() {
	s.chain.submitErr = chain.Retryable(errors.New("mempool full"))
	retrier := retry.New(retry.Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
	submissionGate := gate.NewMemory(config.GateConfig{RequestsPerWindow: 100, Window: time.Hour})
	engine := NewEngine(s.chain, s.wallet, retrier, submissionGate, s.mints)

	_, err := engine.MintAndSend(s.ctx, s.mintParams(), "addr_test1recipient")
	s.Require().ErrorIs(err, sentinel.ErrExhausted)

	queued := retrier.Queue().List()
	s.Require().Len(queued, 1)
	s.Equal(retry.KindSubmission, queued[0].Kind)
	s.NotEmpty(queued[0].SignedPayload, "the signed payload is retained for manual resubmission")
	s.Empty(s.mints.records, "no minting record without a confirmed submission")
}

func (s *EngineSuite) TestGateThrottlesSubmissions() {
	retrier := retry.New(retry.Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
	closedGate := gate.NewMemory(config.GateConfig{RequestsPerWindow: 0, Window: time.Hour})
	engine := NewEngine(s.chain, s.wallet, retrier, closedGate, s.mints)

	_, err := engine.MintAndSend(s.ctx, s.mintParams(), "addr_test1recipient")
	s.Require().ErrorIs(err, sentinel.ErrExhausted)
	s.Empty(s.chain.submitted, "a closed gate never lets the submission reach the network")
}
