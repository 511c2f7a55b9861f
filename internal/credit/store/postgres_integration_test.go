//go:build integration

package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"karbon/internal/credit/models"
	"karbon/internal/credit/store"
	id "karbon/pkg/domain"
	dErrors "karbon/pkg/domain-errors"
	"karbon/pkg/platform/sentinel"
	"karbon/pkg/testutil/containers"
)

type PostgresLedgerSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.Postgres
	owner    id.UserID
}

func TestPostgresLedgerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresLedgerSuite))
}

func (s *PostgresLedgerSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresLedgerSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background()))
	s.owner = id.UserID(uuid.New())
}

func (s *PostgresLedgerSuite) newCredit(serial string, quantity int64) *models.CreditEntry {
	credit, err := models.NewCreditEntry(
		id.NewCreditID(), serial, id.ProjectID(uuid.New()), s.owner,
		decimal.NewFromInt(quantity), 2025, time.Now().UTC())
	s.Require().NoError(err)
	return credit
}

func (s *PostgresLedgerSuite) TestRoundTrip() {
	ctx := context.Background()
	credit := s.newCredit("KRB-2025-001-000001", 500)
	credit.ApplyAnchor(models.AnchorInfo{
		PolicyID:   "policy-1",
		AssetName:  "asset-1",
		MintTxHash: "mint-hash",
		Metadata:   `{"721":{}}`,
	}, time.Now().UTC())
	s.Require().NoError(s.store.CreateCredit(ctx, credit))

	found, err := s.store.FindCreditByID(ctx, credit.ID)
	s.Require().NoError(err)
	s.Equal(credit.Serial, found.Serial)
	s.True(found.Quantity.Equal(credit.Quantity))
	s.Require().NotNil(found.Anchor)
	s.Equal("mint-hash", found.Anchor.MintTxHash)

	bySerial, err := s.store.FindCreditBySerial(ctx, credit.Serial)
	s.Require().NoError(err)
	s.Equal(credit.ID, bySerial.ID)
}

func (s *PostgresLedgerSuite) TestSerialUniqueness() {
	ctx := context.Background()
	first := s.newCredit("KRB-2025-002-000001", 100)
	dup := s.newCredit("KRB-2025-002-000001", 200)
	s.Require().NoError(s.store.CreateCredit(ctx, first))
	s.Require().ErrorIs(s.store.CreateCredit(ctx, dup), sentinel.ErrConflict)
}

func (s *PostgresLedgerSuite) TestMaxSerialSequence() {
	ctx := context.Background()
	projectID := id.ProjectID(uuid.New())
	for _, seq := range []int{1, 5, 3} {
		credit, err := models.NewCreditEntry(
			id.NewCreditID(), fmt.Sprintf("KRB-2025-004-%06d", seq),
			projectID, s.owner, decimal.NewFromInt(10), 2025, time.Now().UTC())
		s.Require().NoError(err)
		s.Require().NoError(s.store.CreateCredit(ctx, credit))
	}

	maxSeq, err := s.store.MaxSerialSequence(ctx, projectID, 2025)
	s.Require().NoError(err)
	s.Equal(5, maxSeq)
}

func (s *PostgresLedgerSuite) TestExecuteLockedCommitAndRollback() {
	ctx := context.Background()

	s.Run("commit applies all writes", func() {
		credit := s.newCredit("KRB-2025-010-000001", 500)
		s.Require().NoError(s.store.CreateCredit(ctx, credit))
		recipient := id.UserID(uuid.New())

		err := s.store.ExecuteLocked(ctx, credit.ID, func(txCtx context.Context, locked *models.CreditEntry) error {
			locked.ApplyTransfer(recipient, time.Now().UTC())
			if err := s.store.UpdateCredit(txCtx, locked); err != nil {
				return err
			}
			txn, err := models.NewTransferTransaction(locked.ID, s.owner, recipient,
				decimal.NewFromInt(200), models.TransferMetadata{TokenMoved: true}, time.Now().UTC())
			if err != nil {
				return err
			}
			return s.store.AppendTransaction(txCtx, txn)
		})
		s.Require().NoError(err)

		updated, err := s.store.FindCreditByID(ctx, credit.ID)
		s.Require().NoError(err)
		s.Equal(recipient, updated.OwnerID)

		txns, err := s.store.ListTransactionsByCredit(ctx, credit.ID)
		s.Require().NoError(err)
		s.Require().Len(txns, 1)
		meta, ok := txns[0].Metadata.(models.TransferMetadata)
		s.Require().True(ok)
		s.True(meta.TokenMoved)
	})

	s.Run("error rolls back every write", func() {
		credit := s.newCredit("KRB-2025-011-000001", 500)
		s.Require().NoError(s.store.CreateCredit(ctx, credit))

		boom := dErrors.New(dErrors.CodeAnchorFailed, "burn failed")
		err := s.store.ExecuteLocked(ctx, credit.ID, func(txCtx context.Context, locked *models.CreditEntry) error {
			locked.ApplyRetirement(time.Now().UTC())
			if err := s.store.UpdateCredit(txCtx, locked); err != nil {
				return err
			}
			txn, err := models.NewRetirementTransaction(locked.ID, s.owner,
				decimal.NewFromInt(500), models.RetirementMetadata{Reason: "offset"}, time.Now().UTC())
			if err != nil {
				return err
			}
			if err := s.store.AppendTransaction(txCtx, txn); err != nil {
				return err
			}
			return boom
		})
		s.Require().ErrorIs(err, boom)

		unchanged, err := s.store.FindCreditByID(ctx, credit.ID)
		s.Require().NoError(err)
		s.Equal(models.CreditStatusActive, unchanged.Status)

		txns, err := s.store.ListTransactionsByCredit(ctx, credit.ID)
		s.Require().NoError(err)
		s.Empty(txns)
	})
}

// TestConcurrentTransfers verifies the row lock serializes racing transfers:
// exactly one wins, the loser fails authorization, ownership never corrupts.
func (s *PostgresLedgerSuite) TestConcurrentTransfers() {
	ctx := context.Background()
	credit := s.newCredit("KRB-2025-020-000001", 500)
	s.Require().NoError(s.store.CreateCredit(ctx, credit))

	recipients := []id.UserID{id.UserID(uuid.New()), id.UserID(uuid.New())}
	results := make([]error, 2)

	var wg sync.WaitGroup
	for i, recipient := range recipients {
		wg.Add(1)
		go func(slot int, to id.UserID) {
			defer wg.Done()
			results[slot] = s.store.ExecuteLocked(ctx, credit.ID, func(txCtx context.Context, locked *models.CreditEntry) error {
				if err := locked.CanTransfer(s.owner, decimal.NewFromInt(300)); err != nil {
					return err
				}
				locked.ApplyTransfer(to, time.Now().UTC())
				return s.store.UpdateCredit(txCtx, locked)
			})
		}(i, recipient)
	}
	wg.Wait()

	// The loser either sees the new owner (authorization error) or hits a
	// serialization failure, depending on when its snapshot was taken. Either
	// way exactly one transfer lands.
	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		}
	}
	s.Equal(1, succeeded)

	final, err := s.store.FindCreditByID(ctx, credit.ID)
	s.Require().NoError(err)
	s.True(final.OwnerID == recipients[0] || final.OwnerID == recipients[1])
	s.True(final.Quantity.Equal(decimal.NewFromInt(500)))
}

func (s *PostgresLedgerSuite) TestMintingRecords() {
	ctx := context.Background()
	projectID := id.ProjectID(uuid.New())
	creditID := id.NewCreditID()

	mint, err := models.NewMintingTransaction("hash-1", creditID, projectID,
		"policy-1", "asset-1", decimal.NewFromInt(500), models.MintOperationMint, `{"type":"sig"}`, time.Now().UTC())
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreateMinting(ctx, mint))

	burn, err := models.NewMintingTransaction("hash-2", creditID, projectID,
		"policy-1", "asset-1", decimal.NewFromInt(500), models.MintOperationBurn, `{"type":"sig"}`, time.Now().UTC())
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreateMinting(ctx, burn))

	found, err := s.store.FindMinting(ctx, projectID, "policy-1", "asset-1")
	s.Require().NoError(err)
	s.Equal("hash-1", found.TxHash)
	s.Equal(`{"type":"sig"}`, found.PolicyScript)

	_, err = s.store.FindMinting(ctx, projectID, "policy-1", "missing")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}
