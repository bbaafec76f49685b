package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Mindburn-Labs/helm-rem/pkg/config"
	"github.com/Mindburn-Labs/helm-rem/pkg/intent"
	"github.com/Mindburn-Labs/helm-rem/pkg/oracle"
	"github.com/Mindburn-Labs/helm-rem/pkg/registry"
	"github.com/Mindburn-Labs/helm-rem/pkg/store"
)

// openSQLRegistry opens the registry at DATABASE_URL, or the lite database.
func openSQLRegistry(ctx context.Context) (*registry.SQLRegistry, func() error, error) {
	cfg := config.Load()
	db, err := store.Open(ctx, cfg.DatabaseURL, cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}
	reg := registry.NewSQLRegistry(db.DB)
	if err := reg.Init(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to init custodian registry: %w", err)
	}
	return reg, db.Close, nil
}

func writeJSON(w io.Writer, v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(data))
}

// runTrustCmd implements `helm-rem trust <subcommand>`.
//
//nolint:gocognit,gocyclo
func runTrustCmd(args []string, stdout, stderr io.Writer) int {
	subCmd := args[0]
	cmd := flag.NewFlagSet("trust "+subCmd, flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		custodianID string
		keyID       string
		pubHex      string
		pubFile     string
		jsonOutput  bool
	)
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	switch subCmd {
	case "add-key", "rotate-key":
		cmd.StringVar(&custodianID, "custodian", "", "Custodian ID (REQUIRED)")
		cmd.StringVar(&keyID, "key-id", "", "Key ID within the custodian (REQUIRED)")
		cmd.StringVar(&pubHex, "public-key", "", "SEC1 P-256 public key, hex")
		cmd.StringVar(&pubFile, "pub-file", "", "File holding the hex public key (as written by keygen)")
	case "revoke-key":
		cmd.StringVar(&custodianID, "custodian", "", "Custodian ID (REQUIRED)")
		cmd.StringVar(&keyID, "key-id", "", "Key ID within the custodian (REQUIRED)")
	case "list-keys":
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown trust subcommand: %s\n", subCmd)
		return 2
	}
	if err := cmd.Parse(args[1:]); err != nil {
		return 2
	}

	ctx := context.Background()

	switch subCmd {
	case "add-key", "rotate-key":
		if custodianID == "" || keyID == "" || (pubHex == "") == (pubFile == "") {
			_, _ = fmt.Fprintf(stderr, "Usage: helm-rem trust %s --custodian ID --key-id ID (--public-key HEX | --pub-file PATH) [--json]\n", subCmd)
			return 2
		}
		if pubFile != "" {
			data, err := os.ReadFile(pubFile) //nolint:gosec // operator supplied path
			if err != nil {
				_, _ = fmt.Fprintf(stderr, "Error: cannot read public key file: %v\n", err)
				return 2
			}
			pubHex = strings.TrimSpace(string(data))
		}
		pub, err := hex.DecodeString(pubHex)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: public key is not hex: %v\n", err)
			return 2
		}

		reg, closeDB, err := openSQLRegistry(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer func() { _ = closeDB() }()

		apply, status := reg.AddKey, "added"
		if subCmd == "rotate-key" {
			apply, status = reg.RotateKey, "rotated"
		}
		key, err := apply(ctx, custodianID, keyID, pub)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if jsonOutput {
			writeJSON(stdout, map[string]any{
				"action":       subCmd,
				"custodian_id": key.CustodianID,
				"key_id":       key.KeyID,
				"approver_id":  key.ApproverIDHex(),
				"status":       status,
			})
		} else {
			_, _ = fmt.Fprintf(stdout, "✅ Custodian key %s/%s %s (approver %s)\n", key.CustodianID, key.KeyID, status, key.ApproverIDHex())
		}
		return 0

	case "revoke-key":
		if custodianID == "" || keyID == "" {
			_, _ = fmt.Fprintln(stderr, "Usage: helm-rem trust revoke-key --custodian ID --key-id ID [--json]")
			return 2
		}
		reg, closeDB, err := openSQLRegistry(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer func() { _ = closeDB() }()

		if err := reg.RevokeKey(ctx, custodianID, keyID); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if jsonOutput {
			writeJSON(stdout, map[string]any{
				"action":       "revoke-key",
				"custodian_id": custodianID,
				"key_id":       keyID,
				"status":       "revoked",
			})
		} else {
			_, _ = fmt.Fprintf(stdout, "✅ Custodian key %s/%s revoked\n", custodianID, keyID)
		}
		return 0

	default: // list-keys
		reg, closeDB, err := openSQLRegistry(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer func() { _ = closeDB() }()

		keys, err := reg.ListKeys(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if jsonOutput {
			out := make([]map[string]any, 0, len(keys))
			for _, k := range keys {
				out = append(out, map[string]any{
					"custodian_id": k.CustodianID,
					"key_id":       k.KeyID,
					"public_key":   k.PublicKeyHex(),
					"approver_id":  k.ApproverIDHex(),
					"added_at":     k.AddedAt,
				})
			}
			writeJSON(stdout, map[string]any{"action": "list-keys", "keys": out, "count": len(out)})
			return 0
		}
		_, _ = fmt.Fprintln(stdout, "Custodian Keys:")
		if len(keys) == 0 {
			_, _ = fmt.Fprintln(stdout, "  (none registered)")
		}
		for _, k := range keys {
			_, _ = fmt.Fprintf(stdout, "  %s/%s  %s\n", k.CustodianID, k.KeyID, k.ApproverIDHex())
		}
		return 0
	}
}

// intentStore is the read/write surface of the SQL and Redis oracles.
type intentStore interface {
	State(ctx context.Context, h intent.Hash) (intent.State, error)
	SetState(ctx context.Context, h intent.Hash, s intent.State) error
}

func openIntentStore(ctx context.Context) (intentStore, func() error, error) {
	cfg := config.Load()
	switch cfg.OracleBackend {
	case config.OracleSQL:
		db, err := store.Open(ctx, cfg.DatabaseURL, cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		o := oracle.NewSQLOracle(db.DB)
		if err := o.Init(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to init intent ledger: %w", err)
		}
		return o, db.Close, nil
	case config.OracleRedis:
		o := oracle.NewRedisOracle(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		return o, o.Close, nil
	default:
		return nil, nil, fmt.Errorf("oracle backend %q has no writable ledger", cfg.OracleBackend)
	}
}

// runIntentCmd implements `helm-rem intent <get|set>`.
func runIntentCmd(args []string, stdout, stderr io.Writer) int {
	subCmd := args[0]
	cmd := flag.NewFlagSet("intent "+subCmd, flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var hashHex, stateArg string
	cmd.StringVar(&hashHex, "hash", "", "Intent hash, 32 bytes hex (REQUIRED)")
	switch subCmd {
	case "get":
	case "set":
		cmd.StringVar(&stateArg, "state", "", "New state: PENDING, AUTHORIZED, EXECUTED, REVOKED, EXPIRED (REQUIRED)")
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown intent subcommand: %s\n", subCmd)
		return 2
	}
	if err := cmd.Parse(args[1:]); err != nil {
		return 2
	}
	if hashHex == "" || (subCmd == "set" && stateArg == "") {
		cmd.Usage()
		return 2
	}

	h, err := intent.ParseHashHex(hashHex)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	var state intent.State
	if subCmd == "set" {
		if state, err = intent.ParseState(stateArg); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}

	ctx := context.Background()
	ledger, closeFn, err := openIntentStore(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = closeFn() }()

	if subCmd == "get" {
		state, err := ledger.State(ctx, h)
		if errors.Is(err, oracle.ErrNotFound) {
			_, _ = fmt.Fprintf(stdout, "%s NOT_FOUND\n", h)
			return 1
		}
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(stdout, "%s %s\n", h, state)
		return 0
	}

	if err := ledger.SetState(ctx, h, state); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "%s %s\n", h, state)
	return 0
}
