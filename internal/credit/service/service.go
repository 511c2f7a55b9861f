// Package service orchestrates the credit lifecycle: issue, transfer, retire
// and reads, composing the ledger store and the anchoring engine.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"

	"karbon/internal/anchor"
	"karbon/internal/credit/metrics"
	"karbon/internal/credit/store"
	"karbon/internal/events"
	id "karbon/pkg/domain"
)

var tracer = otel.Tracer("karbon/internal/credit/service")

// Project is the slice of project data the lifecycle needs.
type Project struct {
	ID              id.ProjectID
	Name            string
	DeveloperID     id.UserID
	Verified        bool
	EmissionsTarget decimal.Decimal
	CreatedAt       time.Time
}

// ProjectRepository resolves projects owned by the project-management domain.
type ProjectRepository interface {
	FindByID(ctx context.Context, projectID id.ProjectID) (*Project, error)
	// CountCreatedBefore returns how many projects were created strictly
	// before the given instant. Drives the serial's project ordinal.
	CountCreatedBefore(ctx context.Context, createdAt time.Time) (int, error)
}

// UserRepository resolves account holders.
type UserRepository interface {
	Exists(ctx context.Context, userID id.UserID) (bool, error)
}

// WalletRepository resolves a user's linked chain address. Returns
// sentinel.ErrNotFound when the user has no wallet linked.
type WalletRepository interface {
	FindAddressByUser(ctx context.Context, userID id.UserID) (string, error)
}

// Anchorer is the on-chain surface the lifecycle uses. Implemented by
// anchor.Engine.
type Anchorer interface {
	MintAndSend(ctx context.Context, params anchor.MintParams, recipientAddress string) (*anchor.MintResult, error)
	TransferAsset(ctx context.Context, creditID id.CreditID, policyID, assetName string, quantity decimal.Decimal, recipientAddress string) (string, error)
	BurnAsset(ctx context.Context, params anchor.BurnParams) (string, error)
	SubmitMemo(ctx context.Context, memo anchor.AuditMemo) (string, error)
}

// EventPublisher emits lifecycle events after committed operations.
// Implemented by events.Publisher.
type EventPublisher interface {
	Issued(ctx context.Context, creditID id.CreditID, serial, owner, quantity, txHash string)
	Transferred(ctx context.Context, creditID id.CreditID, serial, newOwner, quantity, txHash string)
	Retired(ctx context.Context, creditID id.CreditID, serial, owner, txHash string)
}

var _ EventPublisher = (*events.Publisher)(nil)

// Service coordinates the credit lifecycle.
type Service struct {
	ledger       store.Ledger
	projects     ProjectRepository
	users        UserRepository
	wallets      WalletRepository
	anchorer     Anchorer
	publisher    EventPublisher
	logger       *slog.Logger
	metrics      *metrics.Metrics
	serialPrefix string
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithAnchorer enables on-chain anchoring. Without it the ledger runs
// off-chain only.
func WithAnchorer(a Anchorer) Option {
	return func(s *Service) {
		s.anchorer = a
	}
}

// WithPublisher enables lifecycle event publication.
func WithPublisher(p EventPublisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithSerialPrefix overrides the registry serial prefix.
func WithSerialPrefix(prefix string) Option {
	return func(s *Service) {
		if prefix != "" {
			s.serialPrefix = prefix
		}
	}
}

// New constructs a Service.
func New(ledger store.Ledger, projects ProjectRepository, users UserRepository, wallets WalletRepository, opts ...Option) *Service {
	s := &Service{
		ledger:       ledger,
		projects:     projects,
		users:        users,
		wallets:      wallets,
		logger:       slog.Default(),
		serialPrefix: "KRB",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) incrementIssued() {
	if s.metrics != nil {
		s.metrics.IncrementIssued()
	}
}

func (s *Service) incrementTransferred() {
	if s.metrics != nil {
		s.metrics.IncrementTransferred()
	}
}

func (s *Service) incrementRetired() {
	if s.metrics != nil {
		s.metrics.IncrementRetired()
	}
}

func (s *Service) incrementAnchorFailures() {
	if s.metrics != nil {
		s.metrics.IncrementAnchorFailures()
	}
}
