package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"karbon/internal/credit/models"
	id "karbon/pkg/domain"
	"karbon/pkg/platform/sentinel"
	pgtx "karbon/pkg/platform/tx"
)

// Postgres persists the ledger in PostgreSQL.
// This store is pure I/O; lifecycle rules live in the models and the service.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed ledger store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// querier is satisfied by both *sql.DB and *sql.Tx so reads and writes made
// inside ExecuteLocked join the open transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) q(ctx context.Context) querier {
	if tx, ok := pgtx.From(ctx); ok {
		return tx
	}
	return s.db
}

const creditColumns = `id, serial, project_id, owner_id, quantity, vintage, status,
	issued_at, last_action_at, policy_id, asset_name, mint_tx_hash, chain_metadata`

func (s *Postgres) CreateCredit(ctx context.Context, credit *models.CreditEntry) error {
	query := `
		INSERT INTO credits (` + creditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := s.q(ctx).ExecContext(ctx, query, creditArgs(credit)...)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create credit: %w", err)
	}
	return nil
}

func (s *Postgres) UpdateCredit(ctx context.Context, credit *models.CreditEntry) error {
	query := `
		UPDATE credits SET
			owner_id = $2, status = $3, last_action_at = $4,
			policy_id = $5, asset_name = $6, mint_tx_hash = $7, chain_metadata = $8
		WHERE id = $1
	`
	var policyID, assetName, mintHash, chainMeta sql.NullString
	if credit.Anchor != nil {
		policyID = sql.NullString{String: credit.Anchor.PolicyID, Valid: true}
		assetName = sql.NullString{String: credit.Anchor.AssetName, Valid: true}
		mintHash = sql.NullString{String: credit.Anchor.MintTxHash, Valid: true}
		chainMeta = sql.NullString{String: credit.Anchor.Metadata, Valid: true}
	}
	res, err := s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(credit.ID), uuid.UUID(credit.OwnerID), string(credit.Status), credit.LastActionAt,
		policyID, assetName, mintHash, chainMeta,
	)
	if err != nil {
		return fmt.Errorf("update credit: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) FindCreditByID(ctx context.Context, creditID id.CreditID) (*models.CreditEntry, error) {
	query := `SELECT ` + creditColumns + ` FROM credits WHERE id = $1`
	return scanCredit(s.q(ctx).QueryRowContext(ctx, query, uuid.UUID(creditID)))
}

func (s *Postgres) FindCreditBySerial(ctx context.Context, serial string) (*models.CreditEntry, error) {
	query := `SELECT ` + creditColumns + ` FROM credits WHERE serial = $1`
	return scanCredit(s.q(ctx).QueryRowContext(ctx, query, serial))
}

func (s *Postgres) ListCredits(ctx context.Context, f Filter) ([]*models.CreditEntry, error) {
	f = f.Clamp()
	where, args := buildWhere(f)
	// SortBy passed Clamp, so the column lookup cannot miss.
	query := fmt.Sprintf(
		`SELECT %s FROM credits %s ORDER BY %s %s LIMIT %d OFFSET %d`,
		creditColumns, where, sortColumns[f.SortBy], direction(f.SortDesc),
		f.PageSize, (f.Page-1)*f.PageSize,
	)
	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list credits: %w", err)
	}
	defer rows.Close()

	var out []*models.CreditEntry
	for rows.Next() {
		credit, err := scanCreditRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, credit)
	}
	return out, rows.Err()
}

func (s *Postgres) CountCredits(ctx context.Context, f Filter) (int, error) {
	where, args := buildWhere(f.Clamp())
	var count int
	err := s.q(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM credits `+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count credits: %w", err)
	}
	return count, nil
}

func (s *Postgres) MaxSerialSequence(ctx context.Context, projectID id.ProjectID, vintage int) (int, error) {
	// The sequence is the final serial segment; serials are fixed-width so
	// the substring is stable.
	query := `
		SELECT COALESCE(MAX(CAST(SPLIT_PART(serial, '-', 4) AS INTEGER)), 0)
		FROM credits
		WHERE project_id = $1 AND vintage = $2
	`
	var maxSeq int
	err := s.q(ctx).QueryRowContext(ctx, query, uuid.UUID(projectID), vintage).Scan(&maxSeq)
	if err != nil {
		return 0, fmt.Errorf("max serial sequence: %w", err)
	}
	return maxSeq, nil
}

// ExecuteLocked opens a serializable transaction, takes an exclusive row lock
// on the credit, and runs fn with the transaction threaded through the
// context. fn returning an error rolls everything back.
func (s *Postgres) ExecuteLocked(ctx context.Context, creditID id.CreditID, fn func(txCtx context.Context, credit *models.CreditEntry) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin serializable tx: %w", err)
	}
	defer func() {
		_ = sqlTx.Rollback() // no-op after commit
	}()

	query := `SELECT ` + creditColumns + ` FROM credits WHERE id = $1 FOR UPDATE`
	credit, err := scanCredit(sqlTx.QueryRowContext(ctx, query, uuid.UUID(creditID)))
	if err != nil {
		return err
	}

	if err := fn(pgtx.WithTx(ctx, sqlTx), credit); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit credit mutation: %w", err)
	}
	return nil
}

func (s *Postgres) AppendTransaction(ctx context.Context, txn *models.CreditTransaction) error {
	meta, err := models.MarshalMetadata(txn.Metadata)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO credit_transactions (id, credit_id, type, sender, recipient, quantity, status, tx_hash, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(txn.ID), uuid.UUID(txn.CreditID), string(txn.Type),
		nullableUser(txn.Sender), nullableUser(txn.Recipient),
		txn.Quantity, string(txn.Status), nullString(txn.TxHash), meta, txn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append credit transaction: %w", err)
	}
	return nil
}

func (s *Postgres) ListTransactionsByCredit(ctx context.Context, creditID id.CreditID) ([]*models.CreditTransaction, error) {
	query := `
		SELECT id, credit_id, type, sender, recipient, quantity, status, tx_hash, metadata, created_at
		FROM credit_transactions
		WHERE credit_id = $1
		ORDER BY created_at ASC
	`
	rows, err := s.q(ctx).QueryContext(ctx, query, uuid.UUID(creditID))
	if err != nil {
		return nil, fmt.Errorf("list credit transactions: %w", err)
	}
	defer rows.Close()

	var out []*models.CreditTransaction
	for rows.Next() {
		var (
			txn               models.CreditTransaction
			txnID, credID     uuid.UUID
			typ, status       string
			sender, recipient uuid.NullUUID
			txHash            sql.NullString
			rawMeta           []byte
		)
		if err := rows.Scan(&txnID, &credID, &typ, &sender, &recipient, &txn.Quantity, &status, &txHash, &rawMeta, &txn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan credit transaction: %w", err)
		}
		txn.ID = id.TransactionID(txnID)
		txn.CreditID = id.CreditID(credID)
		txn.Type = models.TransactionType(typ)
		txn.Status = models.TransactionStatus(status)
		txn.TxHash = txHash.String
		if sender.Valid {
			u := id.UserID(sender.UUID)
			txn.Sender = &u
		}
		if recipient.Valid {
			u := id.UserID(recipient.UUID)
			txn.Recipient = &u
		}
		meta, err := models.UnmarshalMetadata(rawMeta)
		if err != nil {
			return nil, err
		}
		txn.Metadata = meta
		out = append(out, &txn)
	}
	return out, rows.Err()
}

func (s *Postgres) CreateMinting(ctx context.Context, mint *models.MintingTransaction) error {
	query := `
		INSERT INTO minting_transactions (tx_hash, credit_id, project_id, policy_id, asset_name, quantity, operation, policy_script, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.q(ctx).ExecContext(ctx, query,
		mint.TxHash, uuid.UUID(mint.CreditID), uuid.UUID(mint.ProjectID),
		mint.PolicyID, mint.AssetName, mint.Quantity, string(mint.Operation),
		mint.PolicyScript, mint.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create minting transaction: %w", err)
	}
	return nil
}

func (s *Postgres) FindMinting(ctx context.Context, projectID id.ProjectID, policyID, assetName string) (*models.MintingTransaction, error) {
	query := `
		SELECT tx_hash, credit_id, project_id, policy_id, asset_name, quantity, operation, policy_script, created_at
		FROM minting_transactions
		WHERE project_id = $1 AND policy_id = $2 AND asset_name = $3 AND operation = 'mint'
		ORDER BY created_at ASC
		LIMIT 1
	`
	var (
		mint           models.MintingTransaction
		credID, projID uuid.UUID
		op             string
	)
	err := s.q(ctx).QueryRowContext(ctx, query, uuid.UUID(projectID), policyID, assetName).Scan(
		&mint.TxHash, &credID, &projID, &mint.PolicyID, &mint.AssetName,
		&mint.Quantity, &op, &mint.PolicyScript, &mint.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find minting transaction: %w", err)
	}
	mint.CreditID = id.CreditID(credID)
	mint.ProjectID = id.ProjectID(projID)
	mint.Operation = models.MintOperation(op)
	return &mint, nil
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredit(row *sql.Row) (*models.CreditEntry, error) {
	credit, err := scanCreditRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, err
	}
	return credit, nil
}

func scanCreditRow(row rowScanner) (*models.CreditEntry, error) {
	var (
		credit                                 models.CreditEntry
		creditID, projectID, ownerID           uuid.UUID
		status                                 string
		policyID, assetName, mintHash, chainMD sql.NullString
	)
	err := row.Scan(
		&creditID, &credit.Serial, &projectID, &ownerID, &credit.Quantity,
		&credit.Vintage, &status, &credit.IssuedAt, &credit.LastActionAt,
		&policyID, &assetName, &mintHash, &chainMD,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan credit: %w", err)
	}
	credit.ID = id.CreditID(creditID)
	credit.ProjectID = id.ProjectID(projectID)
	credit.OwnerID = id.UserID(ownerID)
	credit.Status = models.CreditStatus(status)
	if mintHash.Valid && mintHash.String != "" {
		credit.Anchor = &models.AnchorInfo{
			PolicyID:   policyID.String,
			AssetName:  assetName.String,
			MintTxHash: mintHash.String,
			Metadata:   chainMD.String,
		}
	}
	return &credit, nil
}

func creditArgs(credit *models.CreditEntry) []any {
	var policyID, assetName, mintHash, chainMeta sql.NullString
	if credit.Anchor != nil {
		policyID = sql.NullString{String: credit.Anchor.PolicyID, Valid: true}
		assetName = sql.NullString{String: credit.Anchor.AssetName, Valid: true}
		mintHash = sql.NullString{String: credit.Anchor.MintTxHash, Valid: true}
		chainMeta = sql.NullString{String: credit.Anchor.Metadata, Valid: true}
	}
	return []any{
		uuid.UUID(credit.ID), credit.Serial, uuid.UUID(credit.ProjectID), uuid.UUID(credit.OwnerID),
		credit.Quantity, credit.Vintage, string(credit.Status), credit.IssuedAt, credit.LastActionAt,
		policyID, assetName, mintHash, chainMeta,
	}
}

func buildWhere(f Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.OwnerID != nil {
		add("owner_id = $%d", uuid.UUID(*f.OwnerID))
	}
	if f.ProjectID != nil {
		add("project_id = $%d", uuid.UUID(*f.ProjectID))
	}
	if f.Status != nil {
		add("status = $%d", string(*f.Status))
	}
	if f.Vintage != nil {
		add("vintage = $%d", *f.Vintage)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func direction(desc bool) string {
	if desc {
		return "DESC"
	}
	return "ASC"
}

func nullableUser(u *id.UserID) any {
	if u == nil {
		return nil
	}
	return uuid.UUID(*u)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// isUniqueViolation matches postgres unique constraint errors without
// importing driver internals.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate key value")
}

var _ Ledger = (*Postgres)(nil)
