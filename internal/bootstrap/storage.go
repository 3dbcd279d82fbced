// Package bootstrap resolves process-level storage for the daemon: the
// secret-store passphrase and the store itself.
package bootstrap

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/yurug/maplume-sub000/internal/securestore"
)

const (
	storePassphraseEnv = "MAPLUME_STORE_PASSPHRASE"
	storageKeyFile     = "storage.key"
	secretsFile        = "secrets.enc"
)

// StorePassphrase returns the passphrase protecting the secret store.
// Resolution order: MAPLUME_STORE_PASSPHRASE, then the storage.key file
// in dataDir, then a freshly generated key persisted to that file. The
// generated path keeps secrets encrypted at rest without forcing every
// install to configure a passphrase; deployments wanting a
// user-supplied secret set the env variable.
func StorePassphrase(dataDir string) (string, error) {
	if secret := strings.TrimSpace(os.Getenv(storePassphraseEnv)); secret != "" {
		return secret, nil
	}
	keyPath := filepath.Join(dataDir, storageKeyFile)
	existing, err := os.ReadFile(keyPath)
	if err == nil {
		if secret := strings.TrimSpace(string(existing)); secret != "" {
			return secret, nil
		}
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	secret := base64.RawStdEncoding.EncodeToString(buf)
	if err := writeStorageKey(dataDir, secret); err != nil {
		return "", err
	}
	return secret, nil
}

func writeStorageKey(dataDir, secret string) error {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dataDir, storageKeyFile), []byte(secret), 0o600)
}

// OpenSecretStore builds the daemon's secret store. An empty dataDir
// yields an in-memory store, for ephemeral runs and tests.
func OpenSecretStore(dataDir string) (securestore.SecretStore, error) {
	dataDir = strings.TrimSpace(dataDir)
	if dataDir == "" {
		return securestore.NewMemStore(), nil
	}
	passphrase, err := StorePassphrase(dataDir)
	if err != nil {
		return nil, err
	}
	return securestore.NewFileStore(filepath.Join(dataDir, secretsFile), passphrase)
}
