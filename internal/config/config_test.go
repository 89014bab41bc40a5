package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Accounts = []AccountConfig{
		{Name: "home", Kind: KindMaildir, MaildirPath: "/var/lib/meli/home"},
		{Name: "work", Kind: KindIMAP, IMAP: IMAPConfig{Host: "imap.example.com", Port: 993, Username: "me", UseTLS: true}},
	}
	return cfg
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	if err := validConfig(t).Validate(); err != nil {
		t.Fatalf("expected valid config to pass, got: %v", err)
	}
}

func TestValidateRejectsNoAccounts(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero accounts")
	}
}

func TestValidateRejectsDuplicateAccountNames(t *testing.T) {
	cfg := validConfig(t)
	cfg.Accounts[1].Name = "home"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for duplicate account name")
	}
}

func TestValidateRejectsRelativeMaildirPath(t *testing.T) {
	cfg := validConfig(t)
	cfg.Accounts[0].MaildirPath = "relative/path"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for relative maildir_path")
	}
}

func TestValidateRejectsIMAPAccountMissingHost(t *testing.T) {
	cfg := validConfig(t)
	cfg.Accounts[1].IMAP.Host = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing imap.host")
	}
}

func TestValidateRejectsBadLoggingLevel(t *testing.T) {
	cfg := validConfig(t)
	cfg.Logging.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid logging.level")
	}
}

func TestValidateRejectsEmptySieveDBPath(t *testing.T) {
	cfg := validConfig(t)
	cfg.Sieve.DBPath = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty sieve.db_path when sieve is enabled")
	}
}

func TestValidateRejectsZeroWorkerConcurrency(t *testing.T) {
	cfg := validConfig(t)
	cfg.Worker.FolderLoadConcurrency = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero folder_load_concurrency")
	}
}

func TestLoadReturnsDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sieve.MaxScriptSize != DefaultConfig().Sieve.MaxScriptSize {
		t.Error("expected defaults when config file is absent")
	}
}

func TestLoadParsesYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meli.yaml")
	yaml := `
accounts:
  - name: home
    kind: maildir
    maildir_path: /var/lib/meli/home
logging:
  level: debug
worker:
  folder_load_concurrency: 8
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Accounts) != 1 || cfg.Accounts[0].Name != "home" {
		t.Fatalf("expected one account named home, got %+v", cfg.Accounts)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected logging.level=debug, got %s", cfg.Logging.Level)
	}
	if cfg.Worker.FolderLoadConcurrency != 8 {
		t.Errorf("expected worker.folder_load_concurrency=8, got %d", cfg.Worker.FolderLoadConcurrency)
	}
}

func TestGetAccount(t *testing.T) {
	cfg := validConfig(t)
	if a := cfg.GetAccount("work"); a == nil || a.Kind != KindIMAP {
		t.Fatalf("expected to find account work, got %+v", a)
	}
	if a := cfg.GetAccount("missing"); a != nil {
		t.Fatalf("expected nil for unknown account, got %+v", a)
	}
}
