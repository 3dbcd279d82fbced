package bootstrap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/yurug/maplume-sub000/internal/securestore"
	"github.com/yurug/maplume-sub000/internal/testutil/fsperm"
)

func TestStorePassphraseEnvWins(t *testing.T) {
	t.Setenv(storePassphraseEnv, "from-env")
	dataDir := t.TempDir()

	secret, err := StorePassphrase(dataDir)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if secret != "from-env" {
		t.Fatalf("expected env passphrase, got %q", secret)
	}
	if _, err := os.Stat(filepath.Join(dataDir, storageKeyFile)); !os.IsNotExist(err) {
		t.Fatal("env passphrase must not write a key file")
	}
}

func TestStorePassphraseGeneratedOnceAndReused(t *testing.T) {
	t.Setenv(storePassphraseEnv, "")
	dataDir := t.TempDir()

	first, err := StorePassphrase(dataDir)
	if err != nil {
		t.Fatalf("first resolve failed: %v", err)
	}
	if first == "" {
		t.Fatal("expected generated passphrase")
	}
	second, err := StorePassphrase(dataDir)
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if second != first {
		t.Fatalf("generated passphrase not stable: %q vs %q", first, second)
	}
	fsperm.AssertPrivateFilePerm(t, filepath.Join(dataDir, storageKeyFile))
}

func TestStorePassphrasePrefersExistingKeyFile(t *testing.T) {
	t.Setenv(storePassphraseEnv, "")
	dataDir := t.TempDir()
	if err := writeStorageKey(dataDir, "pinned-secret"); err != nil {
		t.Fatalf("seed key file: %v", err)
	}

	secret, err := StorePassphrase(dataDir)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if secret != "pinned-secret" {
		t.Fatalf("expected key file passphrase, got %q", secret)
	}
}

func TestOpenSecretStoreRoundTrip(t *testing.T) {
	t.Setenv(storePassphraseEnv, "")
	dataDir := t.TempDir()

	store, err := OpenSecretStore(dataDir)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := store.Set("k", "v"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	reopened, err := OpenSecretStore(dataDir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	got, ok, err := reopened.Get("k")
	if err != nil || !ok || got != "v" {
		t.Fatalf("secret lost across reopen: %q ok=%v err=%v", got, ok, err)
	}
}

func TestOpenSecretStoreInMemoryWithoutDataDir(t *testing.T) {
	store, err := OpenSecretStore("")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, isMem := store.(*securestore.MemStore); !isMem {
		t.Fatalf("expected in-memory store, got %T", store)
	}
}
