// Package keystore keeps the key material of the wallet's own addresses and
// seals peer payloads for other wallets.
package keystore

import (
	"context"
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"
	"slices"
	"sync"

	"filippo.io/edwards25519"
	"github.com/Aaronyf/beam/service/wallet"
	"github.com/gagliardetto/solana-go"
	"golang.org/x/crypto/nacl/box"
)

var (
	// ErrInvalidKey is returned when a wallet ID is not a valid ed25519
	// public key.
	ErrInvalidKey = errors.New("invalid public key")

	// ErrUnknownKey is returned for wallet IDs the store holds no key for.
	ErrUnknownKey = errors.New("unknown key")
)

type keyEntry struct {
	priv solana.PrivateKey
	own  bool
}

// MemKeyStore is an in-memory wallet.KeyStore. Keys are ed25519; payloads
// are sealed with anonymous NaCl boxes to the recipient's X25519 form.
type MemKeyStore struct {
	mu       sync.RWMutex
	keys     map[wallet.WalletID]keyEntry
	password []byte
}

var _ wallet.KeyStore = (*MemKeyStore)(nil)

// NewMemKeyStore returns an empty key store unlocked with password.
func NewMemKeyStore(password []byte) *MemKeyStore {
	return &MemKeyStore{
		keys:     make(map[wallet.WalletID]keyEntry),
		password: slices.Clone(password),
	}
}

// GenerateKeyPair creates a new key pair and returns its public key. The key
// is not marked own until SaveKeyPair.
func (k *MemKeyStore) GenerateKeyPair(ctx context.Context) (wallet.WalletID, error) {
	priv, err := solana.NewRandomPrivateKey()
	if err != nil {
		return wallet.WalletID{}, fmt.Errorf("failed to generate key pair: %w", err)
	}
	id := priv.PublicKey()

	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[id] = keyEntry{priv: priv}
	return id, nil
}

// SaveKeyPair records whether id belongs to an own address.
func (k *MemKeyStore) SaveKeyPair(ctx context.Context, id wallet.WalletID, own bool) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.keys[id]
	if !ok {
		return fmt.Errorf("key %s: %w", id, ErrUnknownKey)
	}
	e.own = own
	k.keys[id] = e
	return nil
}

// EraseKey removes the key pair for id.
func (k *MemKeyStore) EraseKey(ctx context.Context, id wallet.WalletID) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.keys[id]; !ok {
		return fmt.Errorf("key %s: %w", id, ErrUnknownKey)
	}
	delete(k.keys, id)
	return nil
}

// ChangePassword replaces the key store password.
func (k *MemKeyStore) ChangePassword(ctx context.Context, secret []byte) error {
	if len(secret) == 0 {
		return fmt.Errorf("password must not be empty")
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.password = slices.Clone(secret)
	return nil
}

// CheckPassword reports whether secret matches the current password.
func (k *MemKeyStore) CheckPassword(secret []byte) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return slices.Equal(k.password, secret)
}

// Own reports whether id is a saved own key.
func (k *MemKeyStore) Own(id wallet.WalletID) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	e, ok := k.keys[id]
	return ok && e.own
}

// Encrypt seals payload so only the holder of recipient's private key can
// open it.
func (k *MemKeyStore) Encrypt(payload []byte, recipient wallet.WalletID) ([]byte, error) {
	pub, err := montgomeryPublic(recipient)
	if err != nil {
		return nil, err
	}
	sealed, err := box.SealAnonymous(nil, payload, pub, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to seal payload: %w", err)
	}
	return sealed, nil
}

// Decrypt opens a payload sealed for id.
func (k *MemKeyStore) Decrypt(id wallet.WalletID, sealed []byte) ([]byte, error) {
	k.mu.RLock()
	e, ok := k.keys[id]
	k.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("key %s: %w", id, ErrUnknownKey)
	}

	pub, err := montgomeryPublic(id)
	if err != nil {
		return nil, err
	}
	priv := montgomeryPrivate(e.priv)

	out, ok := box.OpenAnonymous(nil, sealed, pub, priv)
	if !ok {
		return nil, fmt.Errorf("failed to open sealed payload for %s", id)
	}
	return out, nil
}

// ValidKey reports whether id decodes to a point on the ed25519 curve.
func ValidKey(id wallet.WalletID) bool {
	_, err := new(edwards25519.Point).SetBytes(id[:])
	return err == nil
}

func montgomeryPublic(id wallet.WalletID) (*[32]byte, error) {
	p, err := new(edwards25519.Point).SetBytes(id[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, id)
	}
	var out [32]byte
	copy(out[:], p.BytesMontgomery())
	return &out, nil
}

// montgomeryPrivate derives the X25519 scalar from an ed25519 seed.
func montgomeryPrivate(priv solana.PrivateKey) *[32]byte {
	h := sha512.Sum512(priv[:32])
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64

	var out [32]byte
	copy(out[:], h[:32])
	return &out
}
