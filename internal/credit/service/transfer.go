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

// TransferCredits moves ownership of a credit from sender to recipient.
//
// The whole operation runs under an exclusive lock on the credit row inside
// one serializable transaction. When the credit is anchored and the recipient
// has a linked wallet, the token moves on chain as part of the operation: a
// token transfer failure rolls back the entire database transaction, so the
// ledger and the chain never disagree about current ownership. The audit memo
// that follows a successful token move is best-effort only.
func (s *Service) TransferCredits(ctx context.Context, creditID id.CreditID, senderID, recipientID id.UserID, quantity decimal.Decimal) (*models.CreditEntry, error) {
	ctx, span := tracer.Start(ctx, "credit.TransferCredits",
		trace.WithAttributes(attribute.String("credit.id", creditID.String())))
	defer span.End()
	start := time.Now()
	defer s.observeTransfer(start)

	if senderID == recipientID {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "sender and recipient must differ")
	}
	if ok, err := s.users.Exists(ctx, recipientID); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve recipient")
	} else if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "recipient not found")
	}

	var (
		updated   *models.CreditEntry
		tokenHash string
	)
	err := s.ledger.ExecuteLocked(ctx, creditID, func(txCtx context.Context, credit *models.CreditEntry) error {
		if err := credit.CanTransfer(senderID, quantity); err != nil {
			return err
		}
		now := requestcontext.Now(txCtx)
		credit.ApplyTransfer(recipientID, now)

		meta := models.TransferMetadata{}
		tokenHash = ""
		if credit.IsAnchored() && s.anchorer != nil {
			hash, moved, err := s.moveToken(txCtx, credit, recipientID, quantity, &meta)
			if err != nil {
				return err
			}
			meta.TokenMoved = moved
			tokenHash = hash
		}

		if err := s.ledger.UpdateCredit(txCtx, credit); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update credit entry")
		}

		txn, err := models.NewTransferTransaction(credit.ID, senderID, recipientID, quantity, meta, now)
		if err != nil {
			return err
		}
		if tokenHash != "" {
			if err := txn.SetChainHash(tokenHash); err != nil {
				return err
			}
		}
		if err := s.ledger.AppendTransaction(txCtx, txn); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record transfer transaction")
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
			return nil, dErrors.New(dErrors.CodeNotFound, "credit not found")
		}
		return nil, err
	}

	s.incrementTransferred()
	if s.publisher != nil {
		s.publisher.Transferred(ctx, updated.ID, updated.Serial, recipientID.String(), quantity.String(), tokenHash)
	}
	s.logger.Info("transferred credits",
		"credit_id", updated.ID, "serial", updated.Serial,
		"sender_id", senderID, "recipient_id", recipientID, "quantity", quantity)
	return updated, nil
}

// moveToken transfers the on-chain token to the recipient's wallet and, on
// success, submits the best-effort audit memo. A missing recipient wallet
// skips the move; a failed move propagates and rolls back the transfer.
func (s *Service) moveToken(ctx context.Context, credit *models.CreditEntry, recipientID id.UserID, quantity decimal.Decimal, meta *models.TransferMetadata) (string, bool, error) {
	address, err := s.wallets.FindAddressByUser(ctx, recipientID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return "", false, nil
		}
		return "", false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve recipient wallet")
	}

	hash, err := s.anchorer.TransferAsset(ctx, credit.ID, credit.Anchor.PolicyID, credit.Anchor.AssetName, quantity, address)
	if err != nil {
		return "", false, dErrors.Wrap(err, dErrors.CodeAnchorFailed, "on-chain token transfer failed")
	}

	memoHash, memoErr := s.anchorer.SubmitMemo(ctx, anchor.AuditMemo{
		CreditID: credit.ID.String(),
		Serial:   credit.Serial,
		Action:   "transfer",
		Detail:   "quantity " + quantity.String(),
	})
	if memoErr != nil {
		meta.AuditError = memoErr.Error()
		s.logger.Warn("audit memo submission failed",
			"credit_id", credit.ID, "error", memoErr)
	} else {
		meta.AuditTxHash = memoHash
	}
	return hash, true, nil
}

func (s *Service) observeTransfer(start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveTransfer(start)
	}
}
