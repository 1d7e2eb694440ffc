package crypto

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestVaultRoundTrip(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "keys", "config.key")
	v := NewVault(keyPath)

	sealed, err := v.Seal("password", "hunter2")
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if !IsEncrypted(sealed) || strings.Contains(sealed, "hunter2") {
		t.Fatalf("Unexpected sealed value %q", sealed)
	}
	st, err := os.Stat(keyPath)
	if err != nil || st.Size() != KeySize || st.Mode().Perm() != 0600 {
		t.Fatalf("Expected a private %d byte key file: %v %v", KeySize, st, err)
	}

	// 新实例从同一个密钥文件加载
	got, err := NewVault(keyPath).Open("password", sealed)
	if err != nil || got != "hunter2" {
		t.Errorf("Expected hunter2, got %q (%v)", got, err)
	}
}

func TestVaultRejectsWrongLabel(t *testing.T) {
	v := NewVault(filepath.Join(t.TempDir(), "k"))
	sealed, err := v.Seal("password", "x")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := v.Open("passphrase", sealed); !errors.Is(err, ErrDecrypt) {
		t.Errorf("Expected ErrDecrypt, got %v", err)
	}
}

func TestVaultRejectsWrongKey(t *testing.T) {
	dir := t.TempDir()
	sealed, err := NewVault(filepath.Join(dir, "a")).Seal("password", "x")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewVault(filepath.Join(dir, "b")).Open("password", sealed); !errors.Is(err, ErrDecrypt) {
		t.Errorf("Expected ErrDecrypt, got %v", err)
	}
}

func TestOpenPlaintextDoesNotTouchKey(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "k")
	if _, err := NewVault(keyPath).Open("password", "plain"); err == nil {
		t.Error("Expected error for value without prefix")
	}
	if _, err := os.Stat(keyPath); !os.IsNotExist(err) {
		t.Error("Expected key file not to be created")
	}
}

func TestLoadOrGenerateKeyRejectsBadSize(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "k")
	if err := os.WriteFile(keyPath, []byte("short"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOrGenerateKey(keyPath); err == nil {
		t.Error("Expected error for truncated key")
	}
}
