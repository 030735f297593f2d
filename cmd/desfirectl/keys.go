package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/barnettlynn/desfire/config"
	"github.com/barnettlynn/desfire/picc"
	"github.com/barnettlynn/desfire/vault"
)

// parseAID parses a 6-hex-digit application identifier as it appears
// on the command line (e.g. "112233" or "0x112233").
func parseAID(s string) (picc.AID, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 24)
	if err != nil {
		return 0, fmt.Errorf("invalid AID %q: %w", s, err)
	}
	return picc.AID(v), nil
}

// parseHexKey parses a raw hex key string from the command line.
func parseHexKey(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid hex key: %w", err)
	}
	return b, nil
}

// readVaultPassword reads the vault master password from the
// configured password file when one is set and readable, and otherwise
// prompts for it on the controlling terminal without echoing it. It
// fails when neither source is available (no readable file and stdin
// is not a terminal).
func readVaultPassword(cfg *config.Config) ([]byte, error) {
	if cfg.Vault.PasswordFile != "" {
		if b, err := os.ReadFile(cfg.Vault.PasswordFile); err == nil {
			return []byte(strings.TrimRight(string(b), "\r\n")), nil
		}
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, fmt.Errorf("no vault password file configured and stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, "Vault password: ")
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading vault password: %w", err)
	}
	return pw, nil
}

// openVault opens the vault named by cfg, prompting for its password
// if no readable password file is configured.
func openVault(cfg *config.Config) (*vault.Vault, error) {
	if cfg.Vault.Path == "" {
		return nil, fmt.Errorf("no vault configured (set vault.path in the config file)")
	}
	pw, err := readVaultPassword(cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		for i := range pw {
			pw[i] = 0
		}
	}()
	return vault.Open(cfg.Vault.Path, pw)
}
