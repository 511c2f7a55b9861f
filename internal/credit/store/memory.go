package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"karbon/internal/credit/models"
	id "karbon/pkg/domain"
	"karbon/pkg/platform/sentinel"
)

// InMemory is the in-memory ledger used by unit tests and local development.
// It honors the same locking contract as the postgres store: ExecuteLocked
// serializes mutations per credit and rolls back staged writes on error.
type InMemory struct {
	mu       sync.RWMutex
	credits  map[id.CreditID]*models.CreditEntry
	bySerial map[string]id.CreditID
	txns     map[id.CreditID][]*models.CreditTransaction
	mints    []*models.MintingTransaction

	lockMu sync.Mutex
	locks  map[id.CreditID]*sync.Mutex
}

// NewInMemory creates an empty in-memory ledger.
func NewInMemory() *InMemory {
	return &InMemory{
		credits:  make(map[id.CreditID]*models.CreditEntry),
		bySerial: make(map[string]id.CreditID),
		txns:     make(map[id.CreditID][]*models.CreditTransaction),
		locks:    make(map[id.CreditID]*sync.Mutex),
	}
}

// memTx stages writes made inside ExecuteLocked so they commit or roll back
// as one unit, mirroring the postgres transaction.
type memTx struct {
	credit *models.CreditEntry
	txns   []*models.CreditTransaction
	mints  []*models.MintingTransaction
}

type memTxKey struct{}

func txFrom(ctx context.Context) (*memTx, bool) {
	t, ok := ctx.Value(memTxKey{}).(*memTx)
	return t, ok
}

func (s *InMemory) CreateCredit(ctx context.Context, credit *models.CreditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.credits[credit.ID]; exists {
		return sentinel.ErrConflict
	}
	if _, exists := s.bySerial[credit.Serial]; exists {
		return sentinel.ErrConflict
	}
	s.credits[credit.ID] = credit.Clone()
	s.bySerial[credit.Serial] = credit.ID
	return nil
}

func (s *InMemory) UpdateCredit(ctx context.Context, credit *models.CreditEntry) error {
	if t, ok := txFrom(ctx); ok {
		t.credit = credit.Clone()
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.credits[credit.ID]; !exists {
		return sentinel.ErrNotFound
	}
	s.credits[credit.ID] = credit.Clone()
	return nil
}

func (s *InMemory) FindCreditByID(ctx context.Context, creditID id.CreditID) (*models.CreditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	credit, ok := s.credits[creditID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return credit.Clone(), nil
}

func (s *InMemory) FindCreditBySerial(ctx context.Context, serial string) (*models.CreditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	creditID, ok := s.bySerial[serial]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.credits[creditID].Clone(), nil
}

func (s *InMemory) ListCredits(ctx context.Context, f Filter) ([]*models.CreditEntry, error) {
	f = f.Clamp()
	matched := s.matching(f)
	sortCredits(matched, f.SortBy, f.SortDesc)

	start := (f.Page - 1) * f.PageSize
	if start >= len(matched) {
		return nil, nil
	}
	end := start + f.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	page := make([]*models.CreditEntry, 0, end-start)
	for _, c := range matched[start:end] {
		page = append(page, c.Clone())
	}
	return page, nil
}

func (s *InMemory) CountCredits(ctx context.Context, f Filter) (int, error) {
	return len(s.matching(f.Clamp())), nil
}

func (s *InMemory) matching(f Filter) []*models.CreditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.CreditEntry
	for _, c := range s.credits {
		if f.OwnerID != nil && c.OwnerID != *f.OwnerID {
			continue
		}
		if f.ProjectID != nil && c.ProjectID != *f.ProjectID {
			continue
		}
		if f.Status != nil && c.Status != *f.Status {
			continue
		}
		if f.Vintage != nil && c.Vintage != *f.Vintage {
			continue
		}
		out = append(out, c)
	}
	return out
}

func sortCredits(credits []*models.CreditEntry, sortBy string, desc bool) {
	less := func(a, b *models.CreditEntry) bool {
		switch sortBy {
		case "vintage":
			return a.Vintage < b.Vintage
		case "quantity":
			return a.Quantity.LessThan(b.Quantity)
		case "serial":
			return strings.Compare(a.Serial, b.Serial) < 0
		case "status":
			return a.Status < b.Status
		default:
			return a.IssuedAt.Before(b.IssuedAt)
		}
	}
	sort.SliceStable(credits, func(i, j int) bool {
		if desc {
			return less(credits[j], credits[i])
		}
		return less(credits[i], credits[j])
	})
}

func (s *InMemory) MaxSerialSequence(ctx context.Context, projectID id.ProjectID, vintage int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	maxSeq := 0
	for _, c := range s.credits {
		if c.ProjectID != projectID || c.Vintage != vintage {
			continue
		}
		if seq := models.SequenceOf(c.Serial); seq > maxSeq {
			maxSeq = seq
		}
	}
	return maxSeq, nil
}

// ExecuteLocked serializes mutation per credit with a per-credit mutex and
// commits staged writes only when fn succeeds.
func (s *InMemory) ExecuteLocked(ctx context.Context, creditID id.CreditID, fn func(txCtx context.Context, credit *models.CreditEntry) error) error {
	lock := s.creditLock(creditID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	current, ok := s.credits[creditID]
	if !ok {
		s.mu.RUnlock()
		return sentinel.ErrNotFound
	}
	working := current.Clone()
	s.mu.RUnlock()

	t := &memTx{}
	txCtx := context.WithValue(ctx, memTxKey{}, t)
	if err := fn(txCtx, working); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t.credit != nil {
		s.credits[t.credit.ID] = t.credit
	}
	for _, txn := range t.txns {
		s.txns[txn.CreditID] = append(s.txns[txn.CreditID], txn)
	}
	s.mints = append(s.mints, t.mints...)
	return nil
}

func (s *InMemory) creditLock(creditID id.CreditID) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[creditID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[creditID] = lock
	}
	return lock
}

func (s *InMemory) AppendTransaction(ctx context.Context, txn *models.CreditTransaction) error {
	if t, ok := txFrom(ctx); ok {
		t.txns = append(t.txns, txn)
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txns[txn.CreditID] = append(s.txns[txn.CreditID], txn)
	return nil
}

func (s *InMemory) ListTransactionsByCredit(ctx context.Context, creditID id.CreditID) ([]*models.CreditTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	txns := s.txns[creditID]
	out := make([]*models.CreditTransaction, len(txns))
	copy(out, txns)
	return out, nil
}

func (s *InMemory) CreateMinting(ctx context.Context, mint *models.MintingTransaction) error {
	if t, ok := txFrom(ctx); ok {
		t.mints = append(t.mints, mint)
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mints = append(s.mints, mint)
	return nil
}

func (s *InMemory) FindMinting(ctx context.Context, projectID id.ProjectID, policyID, assetName string) (*models.MintingTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// Oldest matching mint wins: that is the record carrying the script.
	for _, m := range s.mints {
		if m.ProjectID == projectID && m.PolicyID == policyID && m.AssetName == assetName && m.Operation == models.MintOperationMint {
			return m, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

var _ Ledger = (*InMemory)(nil)
