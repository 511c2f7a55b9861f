package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"karbon/internal/anchor"
	"karbon/internal/credit/models"
	id "karbon/pkg/domain"
	dErrors "karbon/pkg/domain-errors"
	"karbon/pkg/platform/sentinel"
	"karbon/pkg/requestcontext"
)

// RetireCredits permanently retires a credit. Retirement is terminal: an
// already-retired credit always rejects a second retirement.
//
// Same locking discipline as transfer. When the credit is anchored, the token
// burn is mandatory: a burn failure rolls back the whole operation, since a
// retirement claim must always carry verifiable on-chain proof when one
// exists. Returns the burn hash for certificate generation, empty when the
// credit was never anchored.
func (s *Service) RetireCredits(ctx context.Context, creditID id.CreditID, userID id.UserID, quantity decimal.Decimal, reason string) (*models.CreditEntry, string, error) {
	ctx, span := tracer.Start(ctx, "credit.RetireCredits",
		trace.WithAttributes(attribute.String("credit.id", creditID.String())))
	defer span.End()
	start := time.Now()
	defer s.observeRetire(start)

	var (
		updated  *models.CreditEntry
		burnHash string
	)
	err := s.ledger.ExecuteLocked(ctx, creditID, func(txCtx context.Context, credit *models.CreditEntry) error {
		if err := credit.CanRetire(userID, quantity, reason); err != nil {
			return err
		}
		now := requestcontext.Now(txCtx)
		credit.ApplyRetirement(now)

		if credit.IsAnchored() && s.anchorer != nil {
			hash, err := s.anchorer.BurnAsset(txCtx, anchor.BurnParams{
				CreditID:  credit.ID,
				ProjectID: credit.ProjectID,
				PolicyID:  credit.Anchor.PolicyID,
				AssetName: credit.Anchor.AssetName,
				Quantity:  quantity,
			})
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeAnchorFailed, "on-chain token burn failed")
			}
			burnHash = hash
		}

		if err := s.ledger.UpdateCredit(txCtx, credit); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update credit entry")
		}

		txn, err := models.NewRetirementTransaction(credit.ID, userID, quantity,
			models.RetirementMetadata{Reason: reason, BurnTxHash: burnHash}, now)
		if err != nil {
			return err
		}
		if burnHash != "" {
			if err := txn.SetChainHash(burnHash); err != nil {
				return err
			}
		}
		if err := s.ledger.AppendTransaction(txCtx, txn); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record retirement transaction")
		}
		updated = credit
		return nil
	})
	if err != nil {
		span.RecordError(err)
		if dErrors.HasCode(err, dErrors.CodeAnchorFailed) {
			s.incrementAnchorFailures()
		}
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, "", dErrors.New(dErrors.CodeNotFound, "credit not found")
		}
		return nil, "", err
	}

	s.incrementRetired()
	if s.publisher != nil {
		s.publisher.Retired(ctx, updated.ID, updated.Serial, userID.String(), burnHash)
	}
	s.logger.Info("retired credits",
		"credit_id", updated.ID, "serial", updated.Serial,
		"user_id", userID, "quantity", quantity, "reason", reason, "burn_tx_hash", burnHash)
	return updated, burnHash, nil
}

func (s *Service) observeRetire(start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveRetire(start)
	}
}
