package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestLoadFullConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "vault.pw"), "hunter2\n")

	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, `
reader:
  index: 0
vault:
  path: ./vaultdata
  password_file: vault.pw
application:
  default_aid: 112233
runtime:
  prefer_no_le: false
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if *cfg.Reader.Index != 0 {
		t.Errorf("reader index = %d, want 0", *cfg.Reader.Index)
	}
	if cfg.Vault.Path != filepath.Clean(filepath.Join(dir, "vaultdata")) {
		t.Errorf("vault path not resolved relative to config dir: %s", cfg.Vault.Path)
	}
	if cfg.PreferNoLe() != false {
		t.Errorf("PreferNoLe() = true, want false")
	}
	if cfg.EscapeFirst() != false {
		t.Errorf("EscapeFirst() default = true, want false")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, `
reader:
  index: 0
  bogus_field: true
`)
	if _, err := Load(cfgPath); err == nil {
		t.Fatal("expected Load to reject an unknown field")
	}
}

func TestLoadRequiresReaderIndex(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, `
vault:
  path: x
  password_file: x
`)
	if _, err := LoadWithMode(cfgPath, ValidationReaderOnly); err == nil {
		t.Fatal("expected missing reader.index to fail validation")
	}
}

func TestValidationReaderOnlySkipsVault(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, `
reader:
  index: 2
`)
	cfg, err := LoadWithMode(cfgPath, ValidationReaderOnly)
	if err != nil {
		t.Fatalf("LoadWithMode: %v", err)
	}
	if *cfg.Reader.Index != 2 {
		t.Errorf("reader index = %d, want 2", *cfg.Reader.Index)
	}
}

func TestLoadRequiresVaultPasswordFileToExist(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, `
reader:
  index: 0
vault:
  path: ./v
  password_file: missing.pw
`)
	if _, err := Load(cfgPath); err == nil {
		t.Fatal("expected Load to fail when password_file does not exist")
	}
}

func TestValidateApplicationRejectsBadAID(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "vault.pw"), "pw")
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, `
reader:
  index: 0
vault:
  path: ./v
  password_file: vault.pw
application:
  default_aid: zzzzzz
`)
	if _, err := Load(cfgPath); err == nil {
		t.Fatal("expected Load to reject a non-hex default_aid")
	}
}
