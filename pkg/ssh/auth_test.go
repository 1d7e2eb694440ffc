package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/ssh"

	"github.com/wentf9/sftpq/pkg/models"
)

func writeKey(t *testing.T, passphrase string) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	var block *pem.Block
	if passphrase != "" {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "test", []byte(passphrase))
	} else {
		block, err = ssh.MarshalPrivateKey(priv, "test")
	}
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAuthMethods(t *testing.T) {
	plain := writeKey(t, "")
	locked := writeKey(t, "s3cret")

	tests := []struct {
		name    string
		id      models.Identity
		methods int
		wantErr bool
	}{
		{"password", models.Identity{AuthType: AuthPassword, Password: "pw"}, 2, false},
		{"empty password", models.Identity{AuthType: AuthPassword}, 0, true},
		{"key", models.Identity{AuthType: AuthKey, KeyPath: plain}, 1, false},
		{"key with passphrase", models.Identity{AuthType: AuthKey, KeyPath: locked, Passphrase: "s3cret"}, 1, false},
		{"wrong passphrase", models.Identity{AuthType: AuthKey, KeyPath: locked, Passphrase: "nope"}, 0, true},
		{"missing key file", models.Identity{AuthType: AuthKey, KeyPath: filepath.Join(t.TempDir(), "none")}, 0, true},
		{"no key path", models.Identity{AuthType: AuthKey}, 0, true},
		{"unknown", models.Identity{AuthType: "kerberos"}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			methods, err := authMethods(tt.id)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error=%v, got %v", tt.wantErr, err)
			}
			if len(methods) != tt.methods {
				t.Errorf("Expected %d methods, got %d", tt.methods, len(methods))
			}
		})
	}
}

func TestAuthMethodsPassphraseRequired(t *testing.T) {
	locked := writeKey(t, "s3cret")
	_, err := authMethods(models.Identity{AuthType: AuthKey, KeyPath: locked})
	if !errors.Is(err, ErrPassphraseRequired) {
		t.Errorf("Expected ErrPassphraseRequired, got %v", err)
	}
}

func TestAuthMethodsAgentNeedsSocket(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	if _, err := authMethods(models.Identity{AuthType: AuthAgent}); err == nil {
		t.Error("Expected error without SSH_AUTH_SOCK")
	}
	t.Setenv("SSH_AUTH_SOCK", filepath.Join(t.TempDir(), "agent.sock"))
	methods, err := authMethods(models.Identity{AuthType: AuthAgent})
	if err != nil || len(methods) != 1 {
		t.Errorf("Expected a lazy agent method, got %d (%v)", len(methods), err)
	}
}

func TestKeyboardInteractiveAnswersPassword(t *testing.T) {
	answers, err := answerWith("pw")("u", "", []string{"Password: ", "OTP: "}, []bool{false, false})
	if err != nil || len(answers) != 2 || answers[0] != "pw" {
		t.Errorf("Unexpected answers %v (%v)", answers, err)
	}
}

func TestExpandHomeDir(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandHomeDir("~/.ssh/id_rsa"); got != filepath.Join(home, ".ssh/id_rsa") {
		t.Errorf("Unexpected expansion %s", got)
	}
	if got := expandHomeDir("~user/key"); got != "~user/key" {
		t.Errorf("Expected ~user paths to be left alone, got %s", got)
	}
	if got := expandHomeDir("/abs/key"); got != "/abs/key" {
		t.Errorf("Expected absolute path unchanged, got %s", got)
	}
}
