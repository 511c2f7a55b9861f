package anchor

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/crypto/blake2b"

	"karbon/internal/anchor/chain"
	"karbon/internal/anchor/wallet"
)

// Transaction assembly: select spendable inputs from the custodial wallet,
// add payment and change outputs, attach mint instructions and metadata,
// compute the linear fee, sign the body.

type txInput struct {
	TxHash string `json:"tx_hash"`
	Index  int    `json:"index"`
}

type txOutput struct {
	Address string      `json:"address"`
	Value   chain.Value `json:"value"`
}

type txBody struct {
	Inputs   []txInput        `json:"inputs"`
	Outputs  []txOutput       `json:"outputs"`
	Mint     map[string]int64 `json:"mint,omitempty"`
	Script   *Script          `json:"script,omitempty"`
	Metadata map[string]any   `json:"metadata,omitempty"`
	Fee      int64            `json:"fee"`
}

type signedTx struct {
	Body      txBody `json:"body"`
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
}

// builtTx is a signed transaction ready for submission.
type builtTx struct {
	Payload []byte
	Hash    string
}

// buildTx assembles and signs one transaction.
//
// payments lists the explicit outputs; mint adds (or, negative, removes)
// native tokens; whatever coin and tokens remain flow back to the wallet as
// change. Fee is the network's linear fee over the serialized size, settled
// by one re-serialization pass.
func buildTx(w *wallet.Wallet, params *chain.ProtocolParams, utxos []chain.UTxO, payments []txOutput, mint map[string]int64, script *Script, metadata map[string]any) (*builtTx, error) {
	needCoin := params.MinOutput // reserve for the change output
	needAssets := map[string]int64{}
	for _, p := range payments {
		needCoin += p.Value.Coin
		for key, qty := range p.Value.Assets {
			needAssets[key] += qty
		}
	}
	// Positive mints materialize in this transaction; negative mints must be
	// funded from inputs.
	for key, qty := range mint {
		if qty > 0 {
			needAssets[key] -= qty
			if needAssets[key] <= 0 {
				delete(needAssets, key)
			}
		} else {
			needAssets[key] += -qty
		}
	}

	inputs, inCoin, inAssets, err := selectInputs(utxos, needCoin+feeCeiling(params), needAssets)
	if err != nil {
		return nil, err
	}

	body := txBody{
		Inputs:   inputs,
		Outputs:  payments,
		Mint:     mint,
		Script:   script,
		Metadata: metadata,
	}

	// Two passes: estimate the fee on a body with a placeholder change
	// output, then finalize.
	for pass := 0; pass < 2; pass++ {
		change := txOutput{Address: w.Address(), Value: chain.Value{Assets: map[string]int64{}}}
		for key, qty := range inAssets {
			change.Value.Assets[key] += qty
		}
		for key, qty := range mint {
			change.Value.Assets[key] += qty
		}
		for _, p := range payments {
			for key, qty := range p.Value.Assets {
				change.Value.Assets[key] -= qty
			}
		}
		for key, qty := range change.Value.Assets {
			if qty == 0 {
				delete(change.Value.Assets, key)
			} else if qty < 0 {
				return nil, chain.Permanent(fmt.Errorf("insufficient %s in custodial wallet", key))
			}
		}

		body.Outputs = append([]txOutput{}, payments...)
		body.Outputs = append(body.Outputs, change)

		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("serialize transaction body: %w", err)
		}
		body.Fee = params.FeeFixed + params.FeePerByte*int64(len(raw))

		paymentCoin := int64(0)
		for _, p := range payments {
			paymentCoin += p.Value.Coin
		}
		changeCoin := inCoin - paymentCoin - body.Fee
		if changeCoin < 0 {
			return nil, chain.Permanent(fmt.Errorf("insufficient funds: need %d more base units", -changeCoin))
		}
		body.Outputs[len(body.Outputs)-1].Value.Coin = changeCoin
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("serialize transaction body: %w", err)
	}
	digest := blake2b.Sum256(raw)
	signed := signedTx{
		Body:      body,
		PublicKey: w.PublicKey(),
		Signature: hex.EncodeToString(w.Sign(digest[:])),
	}
	payload, err := json.Marshal(signed)
	if err != nil {
		return nil, fmt.Errorf("serialize signed transaction: %w", err)
	}
	return &builtTx{Payload: payload, Hash: hex.EncodeToString(digest[:])}, nil
}

// feeCeiling over-reserves coin for the fee during input selection; the
// exact fee is settled by buildTx's second pass.
func feeCeiling(params *chain.ProtocolParams) int64 {
	return params.FeeFixed + params.FeePerByte*8192
}

// selectInputs greedily accumulates inputs until coin and asset needs are
// covered. Inputs carrying needed assets are taken first.
func selectInputs(utxos []chain.UTxO, needCoin int64, needAssets map[string]int64) ([]txInput, int64, map[string]int64, error) {
	remaining := make(map[string]int64, len(needAssets))
	for k, v := range needAssets {
		remaining[k] = v
	}

	ordered := make([]chain.UTxO, len(utxos))
	copy(ordered, utxos)
	sort.SliceStable(ordered, func(i, j int) bool {
		return carriesNeeded(ordered[i], remaining) && !carriesNeeded(ordered[j], remaining)
	})

	var (
		inputs    []txInput
		coin      int64
		assets    = map[string]int64{}
		uncovered = func() bool {
			if coin < needCoin {
				return true
			}
			for _, v := range remaining {
				if v > 0 {
					return true
				}
			}
			return false
		}
	)
	for _, u := range ordered {
		if !uncovered() {
			break
		}
		inputs = append(inputs, txInput{TxHash: u.TxHash, Index: u.Index})
		coin += u.Value.Coin
		for key, qty := range u.Value.Assets {
			assets[key] += qty
			if _, ok := remaining[key]; ok {
				remaining[key] -= qty
			}
		}
	}
	if uncovered() {
		return nil, 0, nil, chain.Permanent(fmt.Errorf("insufficient funds in custodial wallet"))
	}
	return inputs, coin, assets, nil
}

func carriesNeeded(u chain.UTxO, needed map[string]int64) bool {
	for key, qty := range needed {
		if qty > 0 && u.Value.Assets[key] > 0 {
			return true
		}
	}
	return false
}
