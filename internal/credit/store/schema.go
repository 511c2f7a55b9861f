package store

// Schema is the DDL the ledger store expects. Production migrations live with
// the deployment tooling; tests apply this directly.
const Schema = `
CREATE TABLE IF NOT EXISTS credits (
	id             UUID PRIMARY KEY,
	serial         TEXT NOT NULL UNIQUE,
	project_id     UUID NOT NULL,
	owner_id       UUID NOT NULL,
	quantity       NUMERIC(20,6) NOT NULL CHECK (quantity > 0),
	vintage        INTEGER NOT NULL,
	status         TEXT NOT NULL,
	issued_at      TIMESTAMPTZ NOT NULL,
	last_action_at TIMESTAMPTZ NOT NULL,
	policy_id      TEXT,
	asset_name     TEXT,
	mint_tx_hash   TEXT,
	chain_metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_credits_owner ON credits (owner_id);
CREATE INDEX IF NOT EXISTS idx_credits_project_vintage ON credits (project_id, vintage);

CREATE TABLE IF NOT EXISTS credit_transactions (
	id         UUID PRIMARY KEY,
	credit_id  UUID NOT NULL REFERENCES credits (id),
	type       TEXT NOT NULL,
	sender     UUID,
	recipient  UUID,
	quantity   NUMERIC(20,6) NOT NULL CHECK (quantity > 0),
	status     TEXT NOT NULL,
	tx_hash    TEXT,
	metadata   JSONB,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_credit_transactions_credit ON credit_transactions (credit_id, created_at);

CREATE TABLE IF NOT EXISTS minting_transactions (
	tx_hash       TEXT PRIMARY KEY,
	credit_id     UUID NOT NULL,
	project_id    UUID NOT NULL,
	policy_id     TEXT NOT NULL,
	asset_name    TEXT NOT NULL,
	quantity      NUMERIC(20,6) NOT NULL,
	operation     TEXT NOT NULL,
	policy_script TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_minting_token_class ON minting_transactions (project_id, policy_id, asset_name);
`
