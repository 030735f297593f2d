package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"

	"github.com/barnettlynn/desfire/authstate"
	"github.com/barnettlynn/desfire/config"
	"github.com/barnettlynn/desfire/picc"
	"github.com/barnettlynn/desfire/session"
	"github.com/barnettlynn/desfire/transmit"
	"github.com/barnettlynn/desfire/transport/pcsc"
)

// connectEngine opens the configured reader and wraps it in a fresh
// transmit.Engine. The caller owns the returned connection and must
// Close it.
func connectEngine(cfg *config.Config) (*transmit.Engine, *pcsc.Connection, error) {
	if cfg.Reader.Index == nil {
		return nil, nil, fmt.Errorf("no reader index configured")
	}
	conn, err := pcsc.Connect(*cfg.Reader.Index)
	if err != nil {
		return nil, nil, err
	}
	eng := transmit.New(conn)
	eng.PreferNoLe = cfg.PreferNoLe()
	return eng, conn, nil
}

func parseMode(s string) (authstate.Mode, error) {
	switch s {
	case "legacy-des", "legacy":
		return authstate.ModeLegacyDES, nil
	case "aes":
		return authstate.ModeAES, nil
	case "ev2-first", "ev2first":
		return authstate.ModeEV2First, nil
	case "ev2-non-first", "ev2nonfirst":
		return authstate.ModeEV2NonFirst, nil
	default:
		return 0, fmt.Errorf("unknown auth mode %q (want legacy-des, aes, ev2-first, or ev2-non-first)", s)
	}
}

// resolveAuthKey returns the key bytes for keyNo against aid, either
// from an explicit --key-hex flag or, if that's empty, from the
// configured vault.
func resolveAuthKey(cfg *config.Config, aid picc.AID, keyNo byte, keyHex string) ([]byte, error) {
	if keyHex != "" {
		return parseHexKey(keyHex)
	}
	v, err := openVault(cfg)
	if err != nil {
		return nil, fmt.Errorf("no --key-hex given and vault unavailable: %w", err)
	}
	defer v.Close()
	key, _, _, err := v.GetKey(context.Background(), aid, keyNo)
	if err != nil {
		return nil, fmt.Errorf("vault lookup for AID %06X key %02X: %w", uint32(aid), keyNo, err)
	}
	return key, nil
}

func authenticate(ctx context.Context, eng *transmit.Engine, cfg *config.Config, aid picc.AID, keyNo byte, modeStr, keyHex string) (*session.Session, error) {
	mode, err := parseMode(modeStr)
	if err != nil {
		return nil, err
	}
	key, err := resolveAuthKey(cfg, aid, keyNo, keyHex)
	if err != nil {
		return nil, err
	}
	result, err := authstate.Authenticate(ctx, eng, mode, key, keyNo, nil)
	if err != nil {
		return nil, err
	}
	return session.FromAuthResult(result), nil
}

func cmdDiag(ctx context.Context, cfg *config.Config, args []string) error {
	eng, conn, err := connectEngine(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	version, err := picc.GetVersion(ctx, eng)
	if err != nil {
		return fmt.Errorf("GetVersion: %w", err)
	}
	printKeyValueTable("VERSION", [][2]string{
		{"Hardware", fmt.Sprintf("% X", version.Hardware)},
		{"Software", fmt.Sprintf("% X", version.Software)},
		{"UID", fmt.Sprintf("% X", version.UID)},
	})

	if aids, err := picc.GetApplicationIDs(ctx, eng); err == nil {
		printApplicationIDs(aids)
	} else {
		fmt.Println("Applications: (not available)")
	}

	if free, err := picc.GetFreeMemory(ctx, eng); err == nil {
		printKeyValueTable("MEMORY", [][2]string{{"Free bytes", fmt.Sprintf("%d", free)}})
	}
	return nil
}

func cmdLsApps(ctx context.Context, cfg *config.Config, args []string) error {
	eng, conn, err := connectEngine(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	aids, err := picc.GetApplicationIDs(ctx, eng)
	if err != nil {
		return err
	}
	printApplicationIDs(aids)
	return nil
}

func cmdSelect(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("select", flag.ExitOnError)
	aidHex := fs.String("aid", "", "application id, hex (required)")
	fs.Parse(args)
	aid, err := parseAID(*aidHex)
	if err != nil {
		return err
	}

	eng, conn, err := connectEngine(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := picc.SelectApplication(ctx, eng, aid); err != nil {
		return err
	}
	fmt.Printf("selected application %06X\n", uint32(aid))
	return nil
}

func cmdCreateApp(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("create-app", flag.ExitOnError)
	aidHex := fs.String("aid", "", "application id, hex (required)")
	keySettings := fs.Int("key-settings", 0x0F, "key settings byte")
	numKeys := fs.Int("num-keys", 1, "number of application keys")
	keyTypeStr := fs.String("key-type", "aes", "des or aes")
	fs.Parse(args)

	aid, err := parseAID(*aidHex)
	if err != nil {
		return err
	}
	kt := picc.KeyTypeAES
	if *keyTypeStr == "des" {
		kt = picc.KeyTypeDES
	}

	eng, conn, err := connectEngine(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := picc.CreateApplication(ctx, eng, aid, byte(*keySettings), byte(*numKeys), kt); err != nil {
		return err
	}
	fmt.Printf("created application %06X\n", uint32(aid))
	return nil
}

func parseAccessRights(s string) (picc.AccessRights, error) {
	// format: read,write,readwrite,changear as four hex nibbles, e.g. "0,0,E,F"
	var r, w, rw, car int
	if _, err := fmt.Sscanf(s, "%X,%X,%X,%X", &r, &w, &rw, &car); err != nil {
		return picc.AccessRights{}, fmt.Errorf("invalid access rights %q (want R,W,RW,CAR as hex nibbles)", s)
	}
	return picc.AccessRights{Read: byte(r), Write: byte(w), ReadWrite: byte(rw), ChangeAccessRights: byte(car)}, nil
}

func cmdCreateFile(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("create-file", flag.ExitOnError)
	fileNo := fs.Int("file-no", 0, "file number")
	fileType := fs.String("type", "std", "std, backup, or value")
	commMode := fs.Int("comm-mode", 0, "communication mode (0=plain,1=mac,3=enc)")
	ar := fs.String("ar", "0,0,E,F", "access rights R,W,RW,CAR as hex nibbles")
	size := fs.Int("size", 32, "file size in bytes (std/backup)")
	lower := fs.Int("lower", 0, "value file lower limit")
	upper := fs.Int("upper", 1000, "value file upper limit")
	value := fs.Int("value", 0, "value file initial value")
	limitedCredit := fs.Bool("limited-credit", false, "enable limited credit (value files)")
	fs.Parse(args)

	rights, err := parseAccessRights(*ar)
	if err != nil {
		return err
	}

	eng, conn, err := connectEngine(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	switch *fileType {
	case "std":
		return picc.CreateStdDataFile(ctx, eng, byte(*fileNo), byte(*commMode), rights, *size)
	case "backup":
		return picc.CreateBackupDataFile(ctx, eng, byte(*fileNo), byte(*commMode), rights, *size)
	case "value":
		return picc.CreateValueFile(ctx, eng, byte(*fileNo), byte(*commMode), rights, int32(*lower), int32(*upper), int32(*value), *limitedCredit)
	default:
		return fmt.Errorf("unknown file type %q", *fileType)
	}
}

func cmdRead(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("read", flag.ExitOnError)
	fileNo := fs.Int("file-no", 0, "file number")
	offset := fs.Int("offset", 0, "read offset")
	length := fs.Int("length", 0, "read length (0 = entire file)")
	fs.Parse(args)

	eng, conn, err := connectEngine(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	data, err := picc.ReadData(ctx, eng, byte(*fileNo), *offset, *length)
	if err != nil {
		return err
	}
	fmt.Println(hex.EncodeToString(data))
	return nil
}

func cmdWrite(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("write", flag.ExitOnError)
	fileNo := fs.Int("file-no", 0, "file number")
	offset := fs.Int("offset", 0, "write offset")
	dataHex := fs.String("data-hex", "", "data to write, hex (required)")
	fs.Parse(args)

	data, err := hex.DecodeString(*dataHex)
	if err != nil {
		return fmt.Errorf("invalid --data-hex: %w", err)
	}

	eng, conn, err := connectEngine(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()
	return picc.WriteData(ctx, eng, byte(*fileNo), *offset, data)
}

func cmdGetValue(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("get-value", flag.ExitOnError)
	fileNo := fs.Int("file-no", 0, "file number")
	fs.Parse(args)

	eng, conn, err := connectEngine(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	v, err := picc.GetValue(ctx, eng, byte(*fileNo))
	if err != nil {
		return err
	}
	fmt.Println(v)
	return nil
}

func valueFileOp(ctx context.Context, cfg *config.Config, args []string, op func(context.Context, *transmit.Engine, byte, int32) error) error {
	fs := flag.NewFlagSet("value-op", flag.ExitOnError)
	fileNo := fs.Int("file-no", 0, "file number")
	amount := fs.Int("amount", 0, "amount")
	fs.Parse(args)

	eng, conn, err := connectEngine(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()
	return op(ctx, eng, byte(*fileNo), int32(*amount))
}

func cmdCredit(ctx context.Context, cfg *config.Config, args []string) error {
	return valueFileOp(ctx, cfg, args, picc.Credit)
}

func cmdDebit(ctx context.Context, cfg *config.Config, args []string) error {
	return valueFileOp(ctx, cfg, args, picc.Debit)
}

func cmdCommit(ctx context.Context, cfg *config.Config, args []string) error {
	eng, conn, err := connectEngine(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()
	return picc.CommitTransaction(ctx, eng)
}

func cmdAbort(ctx context.Context, cfg *config.Config, args []string) error {
	eng, conn, err := connectEngine(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()
	return picc.AbortTransaction(ctx, eng)
}

func cmdAuth(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("auth", flag.ExitOnError)
	aidHex := fs.String("aid", "", "application id, hex (required)")
	keyNo := fs.Int("key-no", 0, "key number")
	mode := fs.String("mode", "ev2-first", "legacy-des, aes, ev2-first, or ev2-non-first")
	keyHex := fs.String("key-hex", "", "auth key, hex (falls back to the vault if empty)")
	fs.Parse(args)

	aid, err := parseAID(*aidHex)
	if err != nil {
		return err
	}

	eng, conn, err := connectEngine(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := picc.SelectApplication(ctx, eng, aid); err != nil {
		return fmt.Errorf("select application: %w", err)
	}
	sess, err := authenticate(ctx, eng, cfg, aid, byte(*keyNo), *mode, *keyHex)
	if err != nil {
		return err
	}
	printKeyValueTable("AUTHENTICATED", [][2]string{
		{"Mode", sess.Mode.String()},
		{"Key no.", fmt.Sprintf("%02X", sess.KeyNo)},
		{"Transaction ID", fmt.Sprintf("% X", sess.TransactionID)},
	})
	return nil
}

func cmdChangeKey(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("change-key", flag.ExitOnError)
	aidHex := fs.String("aid", "", "application id, hex (required)")
	authKeyNo := fs.Int("auth-key-no", 0, "key number to authenticate with")
	mode := fs.String("mode", "ev2-first", "auth mode to establish the session (ignored with --legacy)")
	authKeyHex := fs.String("auth-key-hex", "", "auth key, hex (falls back to the vault if empty)")
	targetKeyNo := fs.Int("key-no", 0, "key number to change")
	newKeyHex := fs.String("new-key-hex", "", "new key, hex (required)")
	newVersion := fs.Int("new-version", 0, "new key version")
	legacy := fs.Bool("legacy", false, "use the legacy unauthenticated ChangeKey path")
	fs.Parse(args)

	aid, err := parseAID(*aidHex)
	if err != nil {
		return err
	}
	newKey, err := parseHexKey(*newKeyHex)
	if err != nil {
		return err
	}

	eng, conn, err := connectEngine(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := picc.SelectApplication(ctx, eng, aid); err != nil {
		return fmt.Errorf("select application: %w", err)
	}

	if *legacy {
		return session.ChangeKey(ctx, eng, byte(*targetKeyNo), newKey, byte(*newVersion))
	}

	sess, err := authenticate(ctx, eng, cfg, aid, byte(*authKeyNo), *mode, *authKeyHex)
	if err != nil {
		return err
	}
	return sess.ChangeKeyEV2(ctx, eng, byte(*targetKeyNo), newKey, byte(*newVersion))
}

func cmdRollKeyset(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("roll-keyset", flag.ExitOnError)
	aidHex := fs.String("aid", "", "application id, hex (required)")
	authKeyNo := fs.Int("auth-key-no", 0, "key number to authenticate with")
	mode := fs.String("mode", "ev2-first", "auth mode")
	authKeyHex := fs.String("auth-key-hex", "", "auth key, hex (falls back to the vault if empty)")
	step := fs.String("step", "init", "init, roll, or finalize")
	keySetNo := fs.Int("keyset-no", 0, "key set number")
	keyType := fs.Int("key-type", 0x80, "key type byte (init step only)")
	fs.Parse(args)

	aid, err := parseAID(*aidHex)
	if err != nil {
		return err
	}

	eng, conn, err := connectEngine(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := picc.SelectApplication(ctx, eng, aid); err != nil {
		return fmt.Errorf("select application: %w", err)
	}
	sess, err := authenticate(ctx, eng, cfg, aid, byte(*authKeyNo), *mode, *authKeyHex)
	if err != nil {
		return err
	}

	switch *step {
	case "init":
		return sess.InitializeKeySet(ctx, eng, byte(*keySetNo), byte(*keyType))
	case "roll":
		return sess.RollKeySet(ctx, eng, byte(*keySetNo))
	case "finalize":
		return sess.FinalizeKeySet(ctx, eng)
	default:
		return fmt.Errorf("unknown step %q (want init, roll, or finalize)", *step)
	}
}

func cmdFormat(ctx context.Context, cfg *config.Config, args []string) error {
	eng, conn, err := connectEngine(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()
	return picc.FormatPICC(ctx, eng)
}

func cmdFileSettings(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("file-settings", flag.ExitOnError)
	fileNo := fs.Int("file-no", 0, "file number")
	fs.Parse(args)

	eng, conn, err := connectEngine(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	settings, err := picc.GetFileSettings(ctx, eng, byte(*fileNo))
	if err != nil {
		return err
	}
	printFileSettings(byte(*fileNo), settings)
	return nil
}

func cmdChangeFileSettings(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("change-file-settings", flag.ExitOnError)
	fileNo := fs.Int("file-no", 0, "file number")
	commMode := fs.Int("comm-mode", 0, "communication mode (0=plain,1=mac,3=enc)")
	ar := fs.String("ar", "0,0,E,F", "access rights R,W,RW,CAR as hex nibbles")
	fs.Parse(args)

	rights, err := parseAccessRights(*ar)
	if err != nil {
		return err
	}

	eng, conn, err := connectEngine(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	data := picc.BuildChangeFileSettingsData(byte(*commMode), rights, 0, 0, 0, 0, 0, 0, 0, 0)
	return picc.ChangeFileSettings(ctx, eng, byte(*fileNo), data)
}

func cmdKeyVersion(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("key-version", flag.ExitOnError)
	keyNo := fs.Int("key-no", 0, "key number")
	fs.Parse(args)

	eng, conn, err := connectEngine(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	v, err := session.GetKeyVersion(ctx, eng, byte(*keyNo))
	if err != nil {
		return err
	}
	fmt.Printf("%02X\n", v)
	return nil
}

func cmdVaultPut(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("vault-put", flag.ExitOnError)
	aidHex := fs.String("aid", "", "application id, hex (required)")
	keyNo := fs.Int("key-no", 0, "key number")
	keyHex := fs.String("key-hex", "", "key bytes, hex (required)")
	keyTypeStr := fs.String("key-type", "aes", "des or aes")
	version := fs.Int("version", 0, "key version")
	fs.Parse(args)

	aid, err := parseAID(*aidHex)
	if err != nil {
		return err
	}
	key, err := parseHexKey(*keyHex)
	if err != nil {
		return err
	}
	kt := picc.KeyTypeAES
	if *keyTypeStr == "des" {
		kt = picc.KeyTypeDES
	}

	v, err := openVault(cfg)
	if err != nil {
		return err
	}
	defer v.Close()

	if err := v.PutKey(ctx, aid, byte(*keyNo), key, kt, byte(*version)); err != nil {
		return err
	}
	fmt.Printf("stored key for AID %06X, key %02X\n", uint32(aid), *keyNo)
	return nil
}
