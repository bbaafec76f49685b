package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/Mindburn-Labs/helm-rem/pkg/config"
)

// Version is set at build time.
var Version = "0.1.0"

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests
var startServer = runServer

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return startServer(stdout, stderr)
	}

	switch args[1] {
	case "serve", "server":
		return startServer(stdout, stderr)
	case "decide":
		return runDecideCmd(args[2:], stdout, stderr)
	case "sign":
		return runSignCmd(args[2:], stdout, stderr)
	case "keygen":
		return runKeygenCmd(args[2:], stdout, stderr)
	case "trust":
		if len(args) < 3 {
			_, _ = fmt.Fprintln(stderr, "Usage: helm-rem trust <add-key|rotate-key|revoke-key|list-keys>")
			return 2
		}
		return runTrustCmd(args[2:], stdout, stderr)
	case "intent":
		if len(args) < 3 {
			_, _ = fmt.Fprintln(stderr, "Usage: helm-rem intent <get|set>")
			return 2
		}
		return runIntentCmd(args[2:], stdout, stderr)
	case "health":
		return runHealthCmd(stdout, stderr)
	case "version":
		_, _ = fmt.Fprintf(stdout, "helm-rem %s\n", Version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1][0] == '-' {
			return startServer(stdout, stderr)
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI Colors
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorRed   = "\033[31m"
	ColorGreen = "\033[32m"
	ColorBlue  = "\033[34m"
	ColorCyan  = "\033[36m"
	ColorGray  = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sHELM REM %s%s\n", ColorBold+ColorBlue, Version, ColorReset)
	fmt.Fprintf(w, "%sNo signature, no state, no execution.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  helm-rem <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "GATE")
	printCommand(w, "serve", "Run the REM gate server (default)")
	printCommand(w, "decide", "Decide one intent offline (--hash, --sig, --key, --authorized)")
	printCommand(w, "health", "Check server health (HTTP)")

	printSection(w, "APPROVER KEYS")
	printCommand(w, "keygen", "Generate a P-256 approver key (--out, --format hex|pem)")
	printCommand(w, "sign", "Sign an intent hash (--key-file, --hash)")
	printCommand(w, "trust", "Manage custodian keys (add-key/rotate-key/revoke-key/list-keys)")

	printSection(w, "INTENT LEDGER")
	printCommand(w, "intent", "Read or write intent state (get/set)")

	printSection(w, "UTILITIES")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-12s%s %s\n", ColorGreen, name, ColorReset, desc)
}

func runHealthCmd(out, errOut io.Writer) int {
	addr := config.Load().HealthAddr
	if addr != "" && addr[0] == ':' {
		addr = "localhost" + addr
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + addr + "/health")
	if err != nil {
		fmt.Fprintf(errOut, "Health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		fmt.Fprintf(errOut, "Health check failed: status %d %s\n", resp.StatusCode, body)
		return 1
	}

	fmt.Fprintln(out, "OK")
	return 0
}
