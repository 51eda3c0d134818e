// Package credential stores provider secrets encrypted at rest.
//
// Secrets are addressed by service and key (for example "gemini" and
// "api_key"). Each value is sealed with NaCl secretbox under a key derived
// from a passphrase with scrypt; the backing Store only ever sees ciphertext.
package credential

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"

	"github.com/phrazzld/lexigen/internal/store"
)

// Vault errors
var (
	// ErrNotFound is returned when no secret exists for a service and key.
	ErrNotFound = fmt.Errorf("%w: credential", store.ErrNotFound)

	// ErrWrongPassphrase is returned when the passphrase does not open the vault.
	ErrWrongPassphrase = errors.New("wrong vault passphrase")

	// ErrInvalidName is returned for empty or reserved service and key names.
	ErrInvalidName = errors.New("invalid credential name")

	// ErrCorrupt is returned when a stored value cannot be decrypted.
	ErrCorrupt = errors.New("credential cannot be decrypted")
)

const (
	reservedService = "_vault"
	saltKey         = "salt"
	checkKey        = "check"
	checkValue      = "lexigen-vault-v1"
	nonceSize       = 24
	saltSize        = 16
)

// Store persists sealed secrets.
type Store interface {
	Put(ctx context.Context, service, key string, sealed []byte) error
	// Get returns store.ErrNotFound (wrapped or bare) when absent.
	Get(ctx context.Context, service, key string) ([]byte, error)
	Delete(ctx context.Context, service, key string) error
	Keys(ctx context.Context, service string) ([]string, error)
}

// Option configures a Vault.
type Option func(*Vault)

// WithScryptCost overrides the scrypt CPU/memory cost (a power of two).
func WithScryptCost(n int) Option {
	return func(v *Vault) {
		if n > 1 && n&(n-1) == 0 {
			v.scryptN = n
		}
	}
}

// Vault encrypts and decrypts secrets kept in a Store.
type Vault struct {
	store   Store
	scryptN int
	key     [32]byte
}

// Open unlocks the vault in s with passphrase. The first Open on an empty
// store initializes it with a fresh salt; later opens must use the same
// passphrase or fail with ErrWrongPassphrase.
func Open(ctx context.Context, s Store, passphrase string, opts ...Option) (*Vault, error) {
	if s == nil {
		return nil, errors.New("credential store cannot be nil")
	}
	if passphrase == "" {
		return nil, fmt.Errorf("%w: passphrase cannot be empty", ErrWrongPassphrase)
	}

	v := &Vault{store: s, scryptN: 1 << 15}
	for _, opt := range opts {
		opt(v)
	}

	salt, err := s.Get(ctx, reservedService, saltKey)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return v.initialize(ctx, passphrase)
	case err != nil:
		return nil, fmt.Errorf("failed to read vault salt: %w", err)
	}

	if err := v.deriveKey(passphrase, salt); err != nil {
		return nil, err
	}
	check, err := s.Get(ctx, reservedService, checkKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read vault check value: %w", err)
	}
	plain, err := v.open(check)
	if err != nil || string(plain) != checkValue {
		return nil, ErrWrongPassphrase
	}
	return v, nil
}

func (v *Vault) initialize(ctx context.Context, passphrase string) (*Vault, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate vault salt: %w", err)
	}
	if err := v.deriveKey(passphrase, salt); err != nil {
		return nil, err
	}
	check, err := v.seal([]byte(checkValue))
	if err != nil {
		return nil, err
	}
	if err := v.store.Put(ctx, reservedService, saltKey, salt); err != nil {
		return nil, fmt.Errorf("failed to store vault salt: %w", err)
	}
	if err := v.store.Put(ctx, reservedService, checkKey, check); err != nil {
		return nil, fmt.Errorf("failed to store vault check value: %w", err)
	}
	return v, nil
}

func (v *Vault) deriveKey(passphrase string, salt []byte) error {
	derived, err := scrypt.Key([]byte(passphrase), salt, v.scryptN, 8, 1, len(v.key))
	if err != nil {
		return fmt.Errorf("failed to derive vault key: %w", err)
	}
	copy(v.key[:], derived)
	return nil
}

// Set stores secret under service and key, replacing any previous value.
func (v *Vault) Set(ctx context.Context, service, key, secret string) error {
	if err := validateName(service, key); err != nil {
		return err
	}
	sealed, err := v.seal([]byte(secret))
	if err != nil {
		return err
	}
	if err := v.store.Put(ctx, service, key, sealed); err != nil {
		return fmt.Errorf("failed to store credential %s:%s: %w", service, key, err)
	}
	return nil
}

// Get returns the secret stored under service and key.
func (v *Vault) Get(ctx context.Context, service, key string) (string, error) {
	if err := validateName(service, key); err != nil {
		return "", err
	}
	sealed, err := v.store.Get(ctx, service, key)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("%w: %s:%s", ErrNotFound, service, key)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read credential %s:%s: %w", service, key, err)
	}
	plain, err := v.open(sealed)
	if err != nil {
		return "", fmt.Errorf("%s:%s: %w", service, key, err)
	}
	return string(plain), nil
}

// Delete removes the secret stored under service and key.
func (v *Vault) Delete(ctx context.Context, service, key string) error {
	if err := validateName(service, key); err != nil {
		return err
	}
	err := v.store.Delete(ctx, service, key)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s:%s", ErrNotFound, service, key)
	}
	if err != nil {
		return fmt.Errorf("failed to delete credential %s:%s: %w", service, key, err)
	}
	return nil
}

// Keys lists the key names stored for service.
func (v *Vault) Keys(ctx context.Context, service string) ([]string, error) {
	if err := validateName(service, "-"); err != nil {
		return nil, err
	}
	return v.store.Keys(ctx, service)
}

// APIKey returns the "api_key" secret for a provider.
func (v *Vault) APIKey(ctx context.Context, provider string) (string, error) {
	return v.Get(ctx, provider, "api_key")
}

func (v *Vault) seal(plain []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &v.key), nil
}

func (v *Vault) open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, ErrCorrupt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &v.key)
	if !ok {
		return nil, ErrCorrupt
	}
	return plain, nil
}

func validateName(service, key string) error {
	if strings.TrimSpace(service) == "" || strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: service and key are required", ErrInvalidName)
	}
	if service == reservedService {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidName, service)
	}
	return nil
}
