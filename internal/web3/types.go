package web3

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"

	xerrors "solshuttle/internal/errors"
)

// Address is the public identifier of an account.
type Address = solana.PublicKey

// Identity owns the key pair controlling one wallet. It is loaded once at
// startup and never mutated.
type Identity struct {
	name string
	key  solana.PrivateKey
}

// NewIdentity wraps an existing private key.
func NewIdentity(name string, key solana.PrivateKey) (Identity, error) {
	if len(key) != 64 {
		return Identity{}, xerrors.Config("钱包 %s 私钥长度无效: %d", name, len(key))
	}
	derived := ed25519.NewKeyFromSeed(key[:ed25519.SeedSize])
	if !bytes.Equal(derived[ed25519.SeedSize:], key[ed25519.SeedSize:]) {
		return Identity{}, xerrors.Config("钱包 %s 私钥与公钥不匹配", name)
	}
	return Identity{name: name, key: key}, nil
}

// IdentityFromBase58 decodes a base58 encoded 64 byte secret key.
func IdentityFromBase58(name, secret string) (Identity, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return Identity{}, xerrors.Config("缺少钱包 %s 私钥", name)
	}
	key, err := solana.PrivateKeyFromBase58(secret)
	if err != nil {
		return Identity{}, xerrors.Config("解析钱包 %s 私钥失败: %v", name, err)
	}
	return NewIdentity(name, key)
}

// Name returns the label given at load time ("A" or "B").
func (i Identity) Name() string { return i.name }

// Address derives the public key of the identity.
func (i Identity) Address() Address {
	if len(i.key) == 0 {
		return Address{}
	}
	return i.key.PublicKey()
}

// IsZero reports whether the identity carries no key.
func (i Identity) IsZero() bool { return len(i.key) == 0 }

// PrivateKey exposes the signing key to transaction builders.
func (i Identity) PrivateKey() solana.PrivateKey { return i.key }

// Anchor is a recent blockhash together with the last block height at which
// transactions referencing it are still accepted.
type Anchor struct {
	Blockhash            solana.Hash
	LastValidBlockHeight uint64
	FetchedAt            time.Time
}

// IsZero reports whether the anchor is absent.
func (a Anchor) IsZero() bool {
	return a.Blockhash == solana.Hash{}
}

// SignedTransfer is a fully signed transfer ready for submission.
type SignedTransfer struct {
	Tx       *solana.Transaction
	Sender   Address
	Receiver Address
	Lamports uint64
	Anchor   Anchor
}

// Signature returns the fee payer signature, which identifies the transaction.
func (s SignedTransfer) Signature() solana.Signature {
	if s.Tx == nil || len(s.Tx.Signatures) == 0 {
		return solana.Signature{}
	}
	return s.Tx.Signatures[0]
}

// Status is the confirmation state of a submitted transfer.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed-out"
)

// Final reports whether the status will no longer change.
func (s Status) Final() bool {
	return s == StatusConfirmed || s == StatusFailed || s == StatusTimedOut
}

// Receipt tracks a submitted transfer. Only Client.Confirm produces a receipt
// with a status other than pending.
type Receipt struct {
	Signature string
	Status    Status
	Slot      uint64
	Anchor    Anchor
}

// Client is the contract every ledger implementation provides to the scheduler.
type Client interface {
	FetchAnchor(ctx context.Context) (Anchor, error)
	Submit(ctx context.Context, transfer SignedTransfer) (Receipt, error)
	Confirm(ctx context.Context, receipt Receipt, deadline time.Duration) (Receipt, error)
	Balance(ctx context.Context, address Address) (uint64, error)
	Close()
}
