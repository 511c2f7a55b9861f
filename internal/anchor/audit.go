package anchor

import (
	"context"
	"fmt"

	"karbon/internal/anchor/chain"
	"karbon/internal/chainio/retry"
)

// AuditMemo is the human-readable trail attached to a transfer. It rides in
// a coin-only transaction under the message metadata convention.
type AuditMemo struct {
	CreditID string
	Serial   string
	Action   string
	Detail   string
}

func (m AuditMemo) lines() []string {
	lines := []string{
		fmt.Sprintf("karbon %s", m.Action),
		fmt.Sprintf("credit %s", m.CreditID),
		fmt.Sprintf("serial %s", m.Serial),
	}
	if m.Detail != "" {
		lines = append(lines, m.Detail)
	}
	return lines
}

// SubmitMemo writes an audit memo on chain: a minimal self-payment carrying
// the memo as transaction metadata. Callers treat failures as best-effort;
// the ledger, not the memo, is authoritative. Memo outcomes stay off the
// operations monitor so they cannot skew the token-operation success rates.
func (e *Engine) SubmitMemo(ctx context.Context, memo AuditMemo) (string, error) {
	pp, utxos, err := e.fetchChainState(ctx, memo.CreditID)
	if err != nil {
		return "", err
	}

	built, err := buildTx(e.wallet, pp, utxos,
		[]txOutput{{
			Address: e.wallet.Address(),
			Value:   chain.Value{Coin: pp.MinOutput},
		}},
		nil, nil,
		memoMetadata(memo.lines()),
	)
	if err != nil {
		return "", err
	}

	return e.retrier.Execute(ctx, retry.Operation{
		Name:     "submit audit memo",
		Kind:     retry.KindQuery, // best-effort: never queued for later retry
		CreditID: memo.CreditID,
		Do: func(ctx context.Context) (string, error) {
			if err := e.gate.Allow(ctx); err != nil {
				return "", err
			}
			return e.chain.Submit(ctx, built.Payload)
		},
	})
}
