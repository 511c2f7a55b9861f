// Package wallet derives the service's custodial signing key from a
// recovery phrase held in a secret store.
package wallet

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/cosmos/go-bip39"
	"golang.org/x/crypto/blake2b"
)

// SecretSource yields the custodial wallet's recovery phrase.
type SecretSource interface {
	RecoveryPhrase(ctx context.Context) (string, error)
}

// EnvSecretSource reads the phrase from an environment variable. Deployments
// with a real secret manager implement SecretSource against it instead.
type EnvSecretSource struct {
	Var string
}

func (s EnvSecretSource) RecoveryPhrase(ctx context.Context) (string, error) {
	phrase := os.Getenv(s.Var)
	if phrase == "" {
		return "", fmt.Errorf("recovery phrase not set in %s", s.Var)
	}
	return phrase, nil
}

// Wallet holds the custodial key pair and its derived chain identity.
type Wallet struct {
	priv    ed25519.PrivateKey
	pub     ed25519.PublicKey
	keyHash string
	address string
}

// NewFromPhrase derives the wallet from a BIP-39 recovery phrase.
// The key hash is the 224-bit blake2b digest of the public key; the payment
// address embeds the network tag so test and main networks cannot be mixed.
func NewFromPhrase(phrase, networkTag string) (*Wallet, error) {
	if !bip39.IsMnemonicValid(phrase) {
		return nil, fmt.Errorf("recovery phrase is not a valid mnemonic")
	}
	seed := bip39.NewSeed(phrase, "")
	priv := ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize])
	pub := priv.Public().(ed25519.PublicKey)

	digest, err := blake2b.New(28, nil)
	if err != nil {
		return nil, fmt.Errorf("init key hash: %w", err)
	}
	digest.Write(pub)
	keyHash := hex.EncodeToString(digest.Sum(nil))

	return &Wallet{
		priv:    priv,
		pub:     pub,
		keyHash: keyHash,
		address: fmt.Sprintf("addr_%s1%s", networkTag, keyHash),
	}, nil
}

// Load resolves the phrase from the secret source and derives the wallet.
func Load(ctx context.Context, source SecretSource, networkTag string) (*Wallet, error) {
	phrase, err := source.RecoveryPhrase(ctx)
	if err != nil {
		return nil, fmt.Errorf("load recovery phrase: %w", err)
	}
	return NewFromPhrase(phrase, networkTag)
}

// Sign signs data with the custodial key.
func (w *Wallet) Sign(data []byte) []byte {
	return ed25519.Sign(w.priv, data)
}

// Verify checks a signature against the custodial public key.
func (w *Wallet) Verify(data, sig []byte) bool {
	return ed25519.Verify(w.pub, data, sig)
}

// KeyHash returns the hex blake2b-224 hash of the public key, used in
// policy scripts.
func (w *Wallet) KeyHash() string { return w.keyHash }

// PublicKey returns the hex-encoded public key.
func (w *Wallet) PublicKey() string { return hex.EncodeToString(w.pub) }

// Address returns the custodial payment address.
func (w *Wallet) Address() string { return w.address }
