package service

import (
	"context"
	"errors"
	"hash/fnv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"karbon/internal/anchor"
	"karbon/internal/credit/models"
	"karbon/internal/credit/store"
	id "karbon/pkg/domain"
	dErrors "karbon/pkg/domain-errors"
	"karbon/pkg/platform/sentinel"
	"karbon/pkg/requestcontext"
)

// IssueCredits mints a new credit entry for a verified project. The entry is
// persisted before any network call, so a failed anchor can never lose the
// credit: anchoring failure leaves the credit valid but unanchored,
// anchorable later out of band.
func (s *Service) IssueCredits(ctx context.Context, projectID id.ProjectID, verificationID id.VerificationID) (*models.CreditEntry, error) {
	ctx, span := tracer.Start(ctx, "credit.IssueCredits",
		trace.WithAttributes(attribute.String("project.id", projectID.String())))
	defer span.End()
	start := time.Now()
	defer s.observeIssue(start)

	if verificationID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "verification id is required")
	}

	project, err := s.projects.FindByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "project not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load project")
	}
	if !project.Verified {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "project is not verified")
	}
	if !project.EmissionsTarget.IsPositive() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "project emissions target must be greater than zero")
	}
	if ok, err := s.users.Exists(ctx, project.DeveloperID); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve project developer")
	} else if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "project developer not found")
	}

	existing, err := s.ledger.CountCredits(ctx, store.Filter{ProjectID: &projectID})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check prior issuance")
	}
	if existing > 0 {
		return nil, dErrors.New(dErrors.CodeConflict, "credits already issued for this project")
	}

	now := requestcontext.Now(ctx)
	serial, err := s.nextSerial(ctx, project, now)
	if err != nil {
		return nil, err
	}

	credit, err := models.NewCreditEntry(id.NewCreditID(), serial, project.ID, project.DeveloperID,
		project.EmissionsTarget, now.Year(), now)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.CreateCredit(ctx, credit); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "credit serial already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist credit entry")
	}

	meta := models.IssuanceMetadata{
		Serial:         serial,
		Vintage:        credit.Vintage,
		VerificationID: verificationID.String(),
	}

	mintHash := s.anchorIssuance(ctx, credit, project, verificationID, &meta, now)

	txn, err := models.NewIssuanceTransaction(credit.ID, credit.OwnerID, credit.Quantity, meta, now)
	if err != nil {
		return nil, err
	}
	if mintHash != "" {
		if err := txn.SetChainHash(mintHash); err != nil {
			return nil, err
		}
	}
	if err := s.ledger.AppendTransaction(ctx, txn); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record issuance transaction")
	}

	s.incrementIssued()
	if s.publisher != nil {
		s.publisher.Issued(ctx, credit.ID, credit.Serial, credit.OwnerID.String(), credit.Quantity.String(), mintHash)
	}
	s.logger.Info("issued credits",
		"credit_id", credit.ID, "serial", credit.Serial, "project_id", project.ID,
		"quantity", credit.Quantity, "anchored", meta.Anchored)
	return credit, nil
}

// anchorIssuance attempts the best-effort mint. Failures are recorded on the
// issuance metadata and monitor, never propagated.
func (s *Service) anchorIssuance(ctx context.Context, credit *models.CreditEntry, project *Project, verificationID id.VerificationID, meta *models.IssuanceMetadata, now time.Time) string {
	if s.anchorer == nil {
		return ""
	}
	address, err := s.wallets.FindAddressByUser(ctx, credit.OwnerID)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			s.logger.Warn("wallet lookup failed, issuing unanchored",
				"credit_id", credit.ID, "owner_id", credit.OwnerID, "error", err)
		}
		return ""
	}

	result, err := s.anchorer.MintAndSend(ctx, anchor.MintParams{
		CreditID:       credit.ID,
		ProjectID:      project.ID,
		ProjectName:    project.Name,
		Serial:         credit.Serial,
		Vintage:        credit.Vintage,
		VerificationID: verificationID.String(),
		Quantity:       credit.Quantity,
	}, address)
	if err != nil {
		meta.AnchorError = err.Error()
		s.incrementAnchorFailures()
		s.logger.Error("anchoring failed, credit issued unanchored",
			"credit_id", credit.ID, "serial", credit.Serial, "error", err)
		return ""
	}

	credit.ApplyAnchor(models.AnchorInfo{
		PolicyID:   result.PolicyID,
		AssetName:  result.AssetName,
		MintTxHash: result.TxHash,
		Metadata:   result.Metadata,
	}, now)
	if err := s.ledger.UpdateCredit(ctx, credit); err != nil {
		// The mint landed; keep the credit valid and surface the gap in logs.
		meta.AnchorError = err.Error()
		s.logger.Error("failed to persist anchor info after mint",
			"credit_id", credit.ID, "tx_hash", result.TxHash, "error", err)
		return ""
	}
	meta.Anchored = true
	return result.TxHash
}

// nextSerial derives the credit's serial number.
//
// Project ordinal is 1 + the count of projects created strictly before this
// one; if that query fails, a deterministic hash of the project id keeps the
// ordinal stable. Sequence is 1 + the highest already issued for the
// (project, vintage) pair.
func (s *Service) nextSerial(ctx context.Context, project *Project, now time.Time) (string, error) {
	vintage := now.Year()

	ordinal := 0
	if before, err := s.projects.CountCreatedBefore(ctx, project.CreatedAt); err == nil {
		ordinal = before + 1
	} else {
		ordinal = fallbackOrdinal(project.ID)
		s.logger.Warn("project ordinal count failed, using deterministic fallback",
			"project_id", project.ID, "ordinal", ordinal, "error", err)
	}

	maxSeq, err := s.ledger.MaxSerialSequence(ctx, project.ID, vintage)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to derive serial sequence")
	}
	return models.FormatSerial(s.serialPrefix, vintage, ordinal, maxSeq+1), nil
}

// fallbackOrdinal hashes the project id into the serial's three-digit
// ordinal space.
func fallbackOrdinal(projectID id.ProjectID) int {
	h := fnv.New32a()
	h.Write([]byte(projectID.String()))
	return int(h.Sum32()%999) + 1
}

func (s *Service) observeIssue(start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveIssue(start)
	}
}
