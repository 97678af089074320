package credstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringStore provides OS-native secure credential storage.
// Uses macOS Keychain, Windows Credential Manager, or Linux Secret Service.
//
// The keyring has no multi-entry transaction, so the access and refresh tokens
// are two entries: "<user>/access_token" and "<user>/refresh_token".
type KeyringStore struct {
	service string
	user    string
}

// Compile-time check to ensure KeyringStore implements Store
var _ Store = (*KeyringStore)(nil)

// NewKeyringStore creates a KeyringStore for the OS-native credential storage
// using the given service and user identifiers.
func NewKeyringStore(service, user string) (*KeyringStore, error) {
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}
	if user == "" {
		return nil, fmt.Errorf("user cannot be empty")
	}

	return &KeyringStore{
		service: service,
		user:    user,
	}, nil
}

func (k *KeyringStore) accessKey() string  { return k.user + "/access_token" }
func (k *KeyringStore) refreshKey() string { return k.user + "/refresh_token" }

// Load returns the pair from the system keyring.
func (k *KeyringStore) Load(ctx context.Context) (Pair, error) {
	if err := ctx.Err(); err != nil {
		return Pair{}, err
	}

	access, err := k.get(k.accessKey())
	if err != nil {
		return Pair{}, err
	}
	refresh, err := k.get(k.refreshKey())
	if err != nil {
		return Pair{}, err
	}

	pair := Pair{AccessToken: access, RefreshToken: refresh}
	if pair.IsZero() {
		return Pair{}, ErrNotFound
	}
	if err := pair.Validate(); err != nil {
		return Pair{}, fmt.Errorf("keyring service %s, user %s: %w", k.service, k.user, err)
	}
	return pair, nil
}

// get reads one entry, mapping a missing entry to the empty string.
func (k *KeyringStore) get(key string) (string, error) {
	value, err := keyring.Get(k.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	return value, err
}

// Save writes both entries, overwriting any existing values. If the second
// write fails the first is rolled back so the keyring never holds half a pair.
func (k *KeyringStore) Save(ctx context.Context, pair Pair) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := pair.Validate(); err != nil {
		return err
	}

	if err := keyring.Set(k.service, k.accessKey(), pair.AccessToken); err != nil {
		return err
	}
	if err := keyring.Set(k.service, k.refreshKey(), pair.RefreshToken); err != nil {
		_ = keyring.Delete(k.service, k.accessKey())
		return err
	}
	return nil
}

// Clear deletes both entries. Entries that are already gone are ignored.
func (k *KeyringStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var errs []error
	for _, key := range []string{k.accessKey(), k.refreshKey()} {
		if err := keyring.Delete(k.service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
