// Command desfirectl drives a MIFARE DESFire card over a PC/SC reader:
// authenticate, list/select applications, create files, read/write
// data, and run the value-file credit/debit/commit/abort cycle. Key
// material comes from a --key-hex flag or from an on-disk vault; the
// vault password comes from the configured password file or a masked
// terminal prompt.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/barnettlynn/desfire/config"
)

func usage() {
	fmt.Fprintln(os.Stderr, `desfirectl - MIFARE DESFire host driver

Usage:
  desfirectl [global flags] <command> [command flags]

Commands:
  diag            print version, UID, applications, and free memory
  ls-apps         list application IDs
  select          select an application
  create-app      create an application
  create-file     create a standard data, backup, or value file
  read            read a standard/backup data file
  write           write a standard/backup data file
  get-value       read a value file's current value
  credit          credit a value file (pending until commit)
  debit           debit a value file (pending until commit)
  commit          commit pending value-file transactions
  abort           abort pending value-file transactions
  auth            authenticate against the selected application
  change-key      change a key (legacy or EV2 secure envelope)
  roll-keyset     initialize/roll/finalize a key set
  key-version     read a key slot's version byte
  file-settings       read a file's settings
  change-file-settings  change a file's communication mode and access rights
  vault-put       store a key in the configured vault
  format          format the PICC (erase all applications)

Global flags:`)
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("config", "", "path to desfirectl config YAML (optional)")
	readerIndex := flag.Int("reader", -1, "PC/SC reader index (overrides config)")
	verbose := flag.Bool("v", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	flag.Usage = usage
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if *logFormat == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	cmdName, rest := args[0], args[1:]

	var cfg *config.Config
	if *configPath != "" {
		c, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "desfirectl: loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = c
	} else {
		cfg = &config.Config{}
		idx := 0
		cfg.Reader.Index = &idx
	}
	if *readerIndex >= 0 {
		cfg.Reader.Index = readerIndex
	}

	cmd, ok := commands[cmdName]
	if !ok {
		fmt.Fprintf(os.Stderr, "desfirectl: unknown command %q\n\n", cmdName)
		usage()
		os.Exit(2)
	}

	ctx := context.Background()
	if err := cmd(ctx, cfg, rest); err != nil {
		fmt.Fprintf(os.Stderr, "desfirectl: %s: %v\n", cmdName, err)
		os.Exit(1)
	}
}

type commandFunc func(ctx context.Context, cfg *config.Config, args []string) error

var commands = map[string]commandFunc{
	"diag":                 cmdDiag,
	"ls-apps":              cmdLsApps,
	"select":               cmdSelect,
	"create-app":           cmdCreateApp,
	"create-file":          cmdCreateFile,
	"read":                 cmdRead,
	"write":                cmdWrite,
	"get-value":            cmdGetValue,
	"credit":               cmdCredit,
	"debit":                cmdDebit,
	"commit":               cmdCommit,
	"abort":                cmdAbort,
	"auth":                 cmdAuth,
	"change-key":           cmdChangeKey,
	"roll-keyset":          cmdRollKeyset,
	"key-version":          cmdKeyVersion,
	"file-settings":        cmdFileSettings,
	"change-file-settings": cmdChangeFileSettings,
	"vault-put":            cmdVaultPut,
	"format":               cmdFormat,
}
