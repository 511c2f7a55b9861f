package service

import (
	"context"
	"errors"

	"karbon/internal/credit/models"
	"karbon/internal/credit/store"
	id "karbon/pkg/domain"
	dErrors "karbon/pkg/domain-errors"
	"karbon/pkg/platform/sentinel"
)

// Reads are pass-through to the ledger store with clamped pagination and a
// whitelisted sort-column set; no transactional semantics required.

// GetCredit returns one credit entry by id.
func (s *Service) GetCredit(ctx context.Context, creditID id.CreditID) (*models.CreditEntry, error) {
	credit, err := s.ledger.FindCreditByID(ctx, creditID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "credit not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load credit")
	}
	return credit, nil
}

// GetCreditBySerial returns one credit entry by its serial number.
func (s *Service) GetCreditBySerial(ctx context.Context, serial string) (*models.CreditEntry, error) {
	if _, err := models.ParseSerial(serial); err != nil {
		return nil, err
	}
	credit, err := s.ledger.FindCreditBySerial(ctx, serial)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "credit not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load credit")
	}
	return credit, nil
}

// ListCredits returns a page of credits plus the total match count.
func (s *Service) ListCredits(ctx context.Context, f store.Filter) ([]*models.CreditEntry, int, error) {
	f = f.Clamp()
	credits, err := s.ledger.ListCredits(ctx, f)
	if err != nil {
		return nil, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list credits")
	}
	total, err := s.ledger.CountCredits(ctx, f)
	if err != nil {
		return nil, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count credits")
	}
	return credits, total, nil
}

// ListTransactions returns a credit's lifecycle history, oldest first.
func (s *Service) ListTransactions(ctx context.Context, creditID id.CreditID) ([]*models.CreditTransaction, error) {
	if _, err := s.GetCredit(ctx, creditID); err != nil {
		return nil, err
	}
	txns, err := s.ledger.ListTransactionsByCredit(ctx, creditID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list transactions")
	}
	return txns, nil
}
