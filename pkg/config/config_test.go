package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wentf9/sftpq/pkg/crypto"
	"github.com/wentf9/sftpq/pkg/models"
)

func sampleConfig() *Configuration {
	cfg := NewConfiguration()
	p := NewProvider(cfg)
	p.AddHost("web", models.Host{Address: "10.0.0.5", Port: 22, Alias: []string{"web.local"}})
	p.AddIdentity("deploy", models.Identity{User: "deploy", Password: "s3cret", AuthType: "password"})
	p.AddNode("web", models.Node{HostRef: "web", IdentityRef: "deploy", Alias: []string{"w1"}})
	return cfg
}

func TestProviderFind(t *testing.T) {
	cfg := sampleConfig()
	p := NewProvider(cfg)
	p.AddHost("db", models.Host{Address: "10.0.0.9", Port: 2222})
	p.AddIdentity("root", models.Identity{User: "root", AuthType: "key", KeyPath: "~/.ssh/id_ed25519"})
	p.AddNode("db", models.Node{HostRef: "db", IdentityRef: "root"})

	tests := []struct {
		input, want string
	}{
		{"web", "web"},
		{"w1", "web"},
		{"deploy@10.0.0.5:22", "web"},
		{"deploy@10.0.0.5", "web"},
		{"deploy@web.local:22", "web"},
		{"root@10.0.0.9:2222", "db"},
		{"root@10.0.0.9", ""},
		{" ", ""},
		{"nobody", ""},
	}
	for _, tt := range tests {
		if got := p.Find(tt.input); got != tt.want {
			t.Errorf("Find(%q): expected %q, got %q", tt.input, tt.want, got)
		}
	}

	p.DeleteNode("web")
	if got := p.Find("w1"); got != "" {
		t.Errorf("Expected deleted node to leave the index, got %q", got)
	}
	if _, ok := p.GetNode("web"); ok {
		t.Error("Expected node to be deleted")
	}
}

func TestStoreMissingFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := NewDefaultStore(filepath.Join(dir, "config.yaml"), filepath.Join(dir, "key")).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Queue.MaxConcurrent != 3 || cfg.Queue.DispatchInterval != 750*time.Millisecond {
		t.Errorf("Expected defaults, got %+v", cfg.Queue)
	}
	if _, err := os.Stat(filepath.Join(dir, "key")); !os.IsNotExist(err) {
		t.Error("Expected no key file to be created without secrets")
	}
}

func TestStoreSaveEncryptsSecrets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")
	store := NewDefaultStore(path, filepath.Join(dir, "key"))

	cfg := sampleConfig()
	cfg.Queue.MaxConcurrent = 7
	if err := store.Save(cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "s3cret") || !strings.Contains(string(raw), crypto.Prefix) {
		t.Errorf("Expected password to be encrypted on disk:\n%s", raw)
	}
	if id, _ := cfg.Identities.Get("deploy"); id.Password != "s3cret" {
		t.Errorf("Expected in-memory config to stay plain, got %q", id.Password)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if id, _ := loaded.Identities.Get("deploy"); id.Password != "s3cret" {
		t.Errorf("Expected decrypted password, got %q", id.Password)
	}
	if loaded.Queue.MaxConcurrent != 7 || loaded.Queue.EventBuffer != 1024 {
		t.Errorf("Unexpected queue section %+v", loaded.Queue)
	}
	if NewProvider(loaded).Find("w1") != "web" {
		t.Error("Expected loaded nodes to be indexed")
	}
}

func TestStoreParsesDurations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := "queue:\n  max_concurrent: 5\n  dispatch_interval: 2s\nsession:\n  keepalive_interval: 1m\n"
	if err := os.WriteFile(path, []byte(doc), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := NewDefaultStore(path, filepath.Join(dir, "key")).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Queue.DispatchInterval != 2*time.Second || cfg.Session.KeepAliveInterval != time.Minute {
		t.Errorf("Unexpected durations %v %v", cfg.Queue.DispatchInterval, cfg.Session.KeepAliveInterval)
	}
	// 未出现的字段保留默认值
	if cfg.Queue.MaxSessionRetries != 5 || cfg.Nodes.Count() != 0 {
		t.Errorf("Expected defaults to survive partial config, got %+v", cfg.Queue)
	}
}

func TestApplyEnv(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envFile, []byte("SFTPQ_LOG_FILE=/var/log/sftpq.log\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvMaxConcurrent, "9")
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvHistory, "off")
	t.Setenv(EnvLogFile, "")
	os.Unsetenv(EnvLogFile)

	cfg := NewConfiguration()
	ApplyEnv(cfg, envFile)
	if cfg.Queue.MaxConcurrent != 9 || cfg.Log.Level != "debug" || !cfg.History.Disabled {
		t.Errorf("Unexpected overrides %+v %+v %+v", cfg.Queue, cfg.Log, cfg.History)
	}
	if cfg.Log.File != "/var/log/sftpq.log" {
		t.Errorf("Expected log file from .env, got %q", cfg.Log.File)
	}
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	store := NewDefaultStore(path, filepath.Join(dir, "key"))
	if err := store.Save(NewConfiguration()); err != nil {
		t.Fatal(err)
	}

	changed := make(chan int, 4)
	err := Watch(t.Context(), store, path, func(cfg *Configuration) {
		changed <- cfg.Queue.MaxConcurrent
	}, nil)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	cfg := NewConfiguration()
	cfg.Queue.MaxConcurrent = 12
	if err := store.Save(cfg); err != nil {
		t.Fatal(err)
	}
	select {
	case n := <-changed:
		if n != 12 {
			t.Errorf("Expected reloaded max_concurrent 12, got %d", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for reload")
	}
}
