package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	"karbon/internal/credit/models"
	id "karbon/pkg/domain"
	dErrors "karbon/pkg/domain-errors"
	"karbon/pkg/platform/sentinel"
)

type MemoryLedgerSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
	owner id.UserID
}

func TestMemoryLedgerSuite(t *testing.T) {
	suite.Run(t, new(MemoryLedgerSuite))
}

func (s *MemoryLedgerSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.owner = id.UserID(uuid.New())
}

func (s *MemoryLedgerSuite) newCredit(serial string, quantity int64) *models.CreditEntry {
	credit, err := models.NewCreditEntry(
		id.NewCreditID(), serial, id.ProjectID(uuid.New()), s.owner,
		decimal.NewFromInt(quantity), 2025, time.Now())
	s.Require().NoError(err)
	return credit
}

func (s *MemoryLedgerSuite) TestCreateAndLookups() {
	s.Run("creates and finds by id and serial", func() {
		credit := s.newCredit("KRB-2025-001-000001", 500)
		s.Require().NoError(s.store.CreateCredit(s.ctx, credit))

		byID, err := s.store.FindCreditByID(s.ctx, credit.ID)
		s.Require().NoError(err)
		s.Equal(credit.Serial, byID.Serial)

		bySerial, err := s.store.FindCreditBySerial(s.ctx, credit.Serial)
		s.Require().NoError(err)
		s.Equal(credit.ID, bySerial.ID)
	})

	s.Run("returns ErrNotFound for unknown credit", func() {
		_, err := s.store.FindCreditByID(s.ctx, id.NewCreditID())
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("rejects duplicate serial", func() {
		first := s.newCredit("KRB-2025-002-000001", 10)
		dup := s.newCredit("KRB-2025-002-000001", 20)
		s.Require().NoError(s.store.CreateCredit(s.ctx, first))
		s.Require().ErrorIs(s.store.CreateCredit(s.ctx, dup), sentinel.ErrConflict)
	})

	s.Run("hands out snapshots, not live rows", func() {
		credit := s.newCredit("KRB-2025-003-000001", 10)
		s.Require().NoError(s.store.CreateCredit(s.ctx, credit))

		found, err := s.store.FindCreditByID(s.ctx, credit.ID)
		s.Require().NoError(err)
		found.Status = models.CreditStatusRetired

		again, err := s.store.FindCreditByID(s.ctx, credit.ID)
		s.Require().NoError(err)
		s.Equal(models.CreditStatusActive, again.Status)
	})
}

func (s *MemoryLedgerSuite) TestListAndFilters() {
	project := id.ProjectID(uuid.New())
	otherOwner := id.UserID(uuid.New())
	for i := 1; i <= 5; i++ {
		credit, err := models.NewCreditEntry(
			id.NewCreditID(),
			fmt.Sprintf("KRB-2025-007-%06d", i),
			project, s.owner,
			decimal.NewFromInt(int64(i*100)), 2025,
			time.Now().Add(time.Duration(i)*time.Minute))
		s.Require().NoError(err)
		if i == 5 {
			credit.OwnerID = otherOwner
		}
		s.Require().NoError(s.store.CreateCredit(s.ctx, credit))
	}

	s.Run("filters by owner", func() {
		credits, err := s.store.ListCredits(s.ctx, Filter{OwnerID: &s.owner})
		s.Require().NoError(err)
		s.Len(credits, 4)
	})

	s.Run("counts by project", func() {
		n, err := s.store.CountCredits(s.ctx, Filter{ProjectID: &project})
		s.Require().NoError(err)
		s.Equal(5, n)
	})

	s.Run("sorts by quantity descending", func() {
		credits, err := s.store.ListCredits(s.ctx, Filter{SortBy: "quantity", SortDesc: true})
		s.Require().NoError(err)
		s.Require().NotEmpty(credits)
		s.True(credits[0].Quantity.Equal(decimal.NewFromInt(500)))
	})

	s.Run("paginates", func() {
		credits, err := s.store.ListCredits(s.ctx, Filter{SortBy: "serial", Page: 2, PageSize: 2})
		s.Require().NoError(err)
		s.Len(credits, 2)
		s.Equal("KRB-2025-007-000003", credits[0].Serial)
	})

	s.Run("page past the end is empty", func() {
		credits, err := s.store.ListCredits(s.ctx, Filter{Page: 99, PageSize: 50})
		s.Require().NoError(err)
		s.Empty(credits)
	})
}

func (s *MemoryLedgerSuite) TestMaxSerialSequence() {
	project := id.ProjectID(uuid.New())
	for _, seq := range []int{1, 3, 2} {
		credit, err := models.NewCreditEntry(
			id.NewCreditID(), fmt.Sprintf("KRB-2025-001-%06d", seq),
			project, s.owner, decimal.NewFromInt(10), 2025, time.Now())
		s.Require().NoError(err)
		s.Require().NoError(s.store.CreateCredit(s.ctx, credit))
	}

	maxSeq, err := s.store.MaxSerialSequence(s.ctx, project, 2025)
	s.Require().NoError(err)
	s.Equal(3, maxSeq)

	none, err := s.store.MaxSerialSequence(s.ctx, project, 2024)
	s.Require().NoError(err)
	s.Equal(0, none)
}

func (s *MemoryLedgerSuite) TestExecuteLocked() {
	s.Run("commits staged writes on success", func() {
		credit := s.newCredit("KRB-2025-010-000001", 500)
		s.Require().NoError(s.store.CreateCredit(s.ctx, credit))
		recipient := id.UserID(uuid.New())

		err := s.store.ExecuteLocked(s.ctx, credit.ID, func(txCtx context.Context, locked *models.CreditEntry) error {
			locked.ApplyTransfer(recipient, time.Now())
			if err := s.store.UpdateCredit(txCtx, locked); err != nil {
				return err
			}
			txn, err := models.NewTransferTransaction(locked.ID, s.owner, recipient,
				decimal.NewFromInt(200), models.TransferMetadata{}, time.Now())
			if err != nil {
				return err
			}
			return s.store.AppendTransaction(txCtx, txn)
		})
		s.Require().NoError(err)

		updated, err := s.store.FindCreditByID(s.ctx, credit.ID)
		s.Require().NoError(err)
		s.Equal(recipient, updated.OwnerID)
		s.Equal(models.CreditStatusTransferred, updated.Status)

		txns, err := s.store.ListTransactionsByCredit(s.ctx, credit.ID)
		s.Require().NoError(err)
		s.Len(txns, 1)
	})

	s.Run("rolls back staged writes on error", func() {
		credit := s.newCredit("KRB-2025-011-000001", 500)
		s.Require().NoError(s.store.CreateCredit(s.ctx, credit))

		boom := dErrors.New(dErrors.CodeAnchorFailed, "burn failed")
		err := s.store.ExecuteLocked(s.ctx, credit.ID, func(txCtx context.Context, locked *models.CreditEntry) error {
			locked.ApplyRetirement(time.Now())
			if err := s.store.UpdateCredit(txCtx, locked); err != nil {
				return err
			}
			txn, err := models.NewRetirementTransaction(locked.ID, s.owner,
				decimal.NewFromInt(500), models.RetirementMetadata{Reason: "offset"}, time.Now())
			if err != nil {
				return err
			}
			if err := s.store.AppendTransaction(txCtx, txn); err != nil {
				return err
			}
			return boom
		})
		s.Require().ErrorIs(err, boom)

		unchanged, err := s.store.FindCreditByID(s.ctx, credit.ID)
		s.Require().NoError(err)
		s.Equal(models.CreditStatusActive, unchanged.Status)

		txns, err := s.store.ListTransactionsByCredit(s.ctx, credit.ID)
		s.Require().NoError(err)
		s.Empty(txns)
	})

	s.Run("unknown credit returns ErrNotFound", func() {
		err := s.store.ExecuteLocked(s.ctx, id.NewCreditID(), func(context.Context, *models.CreditEntry) error {
			s.Fail("callback must not run")
			return nil
		})
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

// TestConcurrentTransfers exercises the double-spend property: two transfers
// racing on the same credit must serialize, with exactly one winner when the
// second is invalidated by the first.
func (s *MemoryLedgerSuite) TestConcurrentTransfers() {
	credit := s.newCredit("KRB-2025-020-000001", 500)
	s.Require().NoError(s.store.CreateCredit(s.ctx, credit))

	firstRecipient := id.UserID(uuid.New())
	secondRecipient := id.UserID(uuid.New())

	transfer := func(sender, recipient id.UserID) error {
		return s.store.ExecuteLocked(s.ctx, credit.ID, func(txCtx context.Context, locked *models.CreditEntry) error {
			if err := locked.CanTransfer(sender, decimal.NewFromInt(300)); err != nil {
				return err
			}
			locked.ApplyTransfer(recipient, time.Now())
			return s.store.UpdateCredit(txCtx, locked)
		})
	}

	var g errgroup.Group
	results := make([]error, 2)
	g.Go(func() error {
		results[0] = transfer(s.owner, firstRecipient)
		return nil
	})
	g.Go(func() error {
		results[1] = transfer(s.owner, secondRecipient)
		return nil
	})
	s.Require().NoError(g.Wait())

	// Both transfers claim to send from the original owner; whichever ran
	// second saw the new owner and failed authorization.
	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
		}
	}
	s.Equal(1, succeeded)

	final, err := s.store.FindCreditByID(s.ctx, credit.ID)
	s.Require().NoError(err)
	s.True(final.OwnerID == firstRecipient || final.OwnerID == secondRecipient)
	s.True(final.Quantity.Equal(decimal.NewFromInt(500)))
}

func (s *MemoryLedgerSuite) TestMintingRecords() {
	project := id.ProjectID(uuid.New())
	mint, err := models.NewMintingTransaction("hash-1", id.NewCreditID(), project,
		"policy-1", "asset-1", decimal.NewFromInt(500), models.MintOperationMint, `{"type":"sig"}`, time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreateMinting(s.ctx, mint))

	burn, err := models.NewMintingTransaction("hash-2", mint.CreditID, project,
		"policy-1", "asset-1", decimal.NewFromInt(500), models.MintOperationBurn, `{"type":"sig"}`, time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreateMinting(s.ctx, burn))

	s.Run("finds the original mint, not the burn", func() {
		found, err := s.store.FindMinting(s.ctx, project, "policy-1", "asset-1")
		s.Require().NoError(err)
		s.Equal("hash-1", found.TxHash)
		s.Equal(models.MintOperationMint, found.Operation)
	})

	s.Run("unknown token class returns ErrNotFound", func() {
		_, err := s.store.FindMinting(s.ctx, project, "policy-x", "asset-1")
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}
