package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Mindburn-Labs/helm-rem/pkg/crypto"
	"github.com/Mindburn-Labs/helm-rem/pkg/gate"
	"github.com/Mindburn-Labs/helm-rem/pkg/intent"
	"github.com/Mindburn-Labs/helm-rem/pkg/oracle"
)

// runDecideCmd implements `helm-rem decide`: one decision against a static
// oracle, without a server.
func runDecideCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("decide", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		hashHex    string
		sigHex     string
		keyHex     string
		authorized bool
		nowMs      uint64
		jsonOutput bool
	)
	cmd.StringVar(&hashHex, "hash", "", "Intent hash, 32 bytes hex (REQUIRED)")
	cmd.StringVar(&sigHex, "sig", "", "DER signature, hex (REQUIRED)")
	cmd.StringVar(&keyHex, "key", "", "SEC1 P-256 verifying key, hex (REQUIRED)")
	cmd.BoolVar(&authorized, "authorized", false, "Treat the intent as AUTHORIZED in the ledger")
	cmd.Uint64Var(&nowMs, "now", 0, "Execution timestamp in unix ms (default: current time)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if hashHex == "" || sigHex == "" || keyHex == "" {
		fmt.Fprintln(stderr, "Error: --hash, --sig and --key are required")
		cmd.Usage()
		return 2
	}

	hash, err := hex.DecodeString(strings.TrimPrefix(hashHex, "sha256:"))
	if err != nil {
		fmt.Fprintf(stderr, "Error: --hash is not hex: %v\n", err)
		return 2
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		fmt.Fprintf(stderr, "Error: --sig is not hex: %v\n", err)
		return 2
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		fmt.Fprintf(stderr, "Error: --key is not hex: %v\n", err)
		return 2
	}
	if nowMs == 0 {
		nowMs = uint64(time.Now().UnixMilli())
	}

	o := oracle.NewStatic()
	if authorized {
		if h, err := intent.ParseHash(hash); err == nil {
			o.Authorize(h)
		}
	}

	// Decision logs go to stderr so stdout stays machine readable.
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	g, err := gate.New(o, gate.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	tok, decideErr := g.DecideRaw(context.Background(), hash, sig, key, nowMs)
	return printDecision(stdout, tok, decideErr, jsonOutput)
}

func printDecision(w io.Writer, tok gate.AuditToken, decideErr error, jsonOutput bool) int {
	if decideErr != nil {
		reason := gate.ReasonOf(decideErr)
		if jsonOutput {
			data, _ := json.MarshalIndent(map[string]any{
				"outcome": gate.Denied,
				"reason":  reason.String(),
				"error":   decideErr.Error(),
			}, "", "  ")
			fmt.Fprintln(w, string(data))
		} else {
			fmt.Fprintf(w, "%sDENIED%s %s: %v\n", ColorBold+ColorRed, ColorReset, reason, decideErr)
		}
		return 1
	}

	digest, err := tok.Digest()
	if err != nil {
		fmt.Fprintf(w, "Error: token digest: %v\n", err)
		return 1
	}
	if jsonOutput {
		data, _ := json.MarshalIndent(map[string]any{
			"outcome":      gate.Granted,
			"token":        tok,
			"token_digest": hex.EncodeToString(digest[:]),
		}, "", "  ")
		fmt.Fprintln(w, string(data))
		return 0
	}

	id := tok.ApproverID()
	fmt.Fprintf(w, "%sGRANTED%s\n", ColorBold+ColorGreen, ColorReset)
	fmt.Fprintf(w, "   Intent:   %s\n", tok.IntentHash())
	fmt.Fprintf(w, "   Approver: %s\n", hex.EncodeToString(id[:]))
	fmt.Fprintf(w, "   At:       %d\n", tok.ExecutedAt())
	fmt.Fprintf(w, "   Digest:   %s\n", hex.EncodeToString(digest[:]))
	return 0
}

// runSignCmd implements `helm-rem sign`.
func runSignCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("sign", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		keyFile  string
		hashHex  string
		stateArg string
	)
	cmd.StringVar(&keyFile, "key-file", "", "Approver key file (REQUIRED)")
	cmd.StringVar(&hashHex, "hash", "", "Intent hash, 32 bytes hex (REQUIRED)")
	cmd.StringVar(&stateArg, "state", intent.StateAuthorized.String(), "State to sign")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if keyFile == "" || hashHex == "" {
		fmt.Fprintln(stderr, "Error: --key-file and --hash are required")
		cmd.Usage()
		return 2
	}

	h, err := intent.ParseHashHex(hashHex)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	state, err := intent.ParseState(stateArg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	signer, err := crypto.LoadSignerFile(keyFile, "cli")
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	sig, err := signer.SignState(h, state)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := crypto.Verify(signer.PublicKeyBytes(), sig, intent.SignedMessage(h, state)); err != nil {
		fmt.Fprintf(stderr, "Error: signature self-check failed: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "signature:     %s\n", hex.EncodeToString(sig))
	fmt.Fprintf(stdout, "verifying_key: %s\n", signer.PublicKey())
	return 0
}

// runKeygenCmd implements `helm-rem keygen`.
func runKeygenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("keygen", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var out, format string
	cmd.StringVar(&out, "out", "", "Path for the private key; the public key goes to <out>.pub (REQUIRED)")
	cmd.StringVar(&format, "format", "hex", "Private key encoding: hex or pem")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if out == "" {
		fmt.Fprintln(stderr, "Error: --out is required")
		cmd.Usage()
		return 2
	}
	save := crypto.SaveSignerFile
	switch format {
	case "hex":
	case "pem":
		save = crypto.SaveSignerPEMFile
	default:
		fmt.Fprintf(stderr, "Error: unknown --format %q (want hex or pem)\n", format)
		return 2
	}

	signer, err := crypto.GenerateSigner("cli")
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := save(out, signer); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	id := signer.ApproverID()
	fmt.Fprintf(stdout, "Key written to %s\n", out)
	fmt.Fprintf(stdout, "   Public key:  %s\n", signer.PublicKey())
	fmt.Fprintf(stdout, "   Approver ID: %s\n", hex.EncodeToString(id[:]))
	return 0
}
