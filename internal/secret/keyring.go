package secret

import (
	"encoding/json"
	"fmt"

	"github.com/zalando/go-keyring"
)

// DefaultService is the keyring service name mailgate stores
// credentials under.
const DefaultService = "mailgate"

// KeyringStore persists Credentials in the OS keyring
// (macOS Keychain, Windows Credential Manager, or Linux Secret
// Service), JSON-encoded under the credential key.
type KeyringStore struct {
	service string
}

// NewKeyringStore returns a store scoped to the given service name.
func NewKeyringStore(service string) *KeyringStore {
	if service == "" {
		service = DefaultService
	}
	return &KeyringStore{service: service}
}

// Save stores the given credentials in the OS keyring under key.
func (k *KeyringStore) Save(key string, creds Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	if err := keyring.Set(k.service, key, string(data)); err != nil {
		return fmt.Errorf("failed to save credentials to keyring: %w", err)
	}
	return nil
}

// Load retrieves the credentials stored under key.
func (k *KeyringStore) Load(key string) (Credentials, error) {
	data, err := keyring.Get(k.service, key)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to load credentials from keyring: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal([]byte(data), &creds); err != nil {
		return Credentials{}, fmt.Errorf("failed to unmarshal credentials: %w", err)
	}
	return creds, nil
}

// Delete removes the credentials stored under key.
func (k *KeyringStore) Delete(key string) error {
	if err := keyring.Delete(k.service, key); err != nil {
		return fmt.Errorf("failed to delete credentials from keyring: %w", err)
	}
	return nil
}
