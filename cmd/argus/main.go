// Command argus scans WordPress sites for common exposures. Aggressive
// scans require verified consent for the target domain.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/argusscan/argus/pkg/core"
	"github.com/argusscan/argus/pkg/defaults"
	"github.com/argusscan/argus/pkg/ui"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run dispatches one subcommand and returns the process exit status.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return defaults.ExitError
	}

	var err error
	switch args[0] {
	case "scan":
		err = runScan(ctx, args[1:], stdout, stderr)
	case "consent":
		err = runConsent(ctx, args[1:], stdout, stderr)
	case "history":
		err = runHistory(ctx, args[1:], stdout, stderr)
	case "serve":
		err = runServe(ctx, args[1:], stdout, stderr)
	case "checks":
		err = runChecks(args[1:], stdout, stderr)
	case "version", "-v", "--version":
		fmt.Fprintf(stdout, "%s %s\n", defaults.ToolName, defaults.Version)
		return defaults.ExitSuccess
	case "help", "-h", "--help":
		printUsage(stdout)
		return defaults.ExitSuccess
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", args[0])
		printUsage(stderr)
		return defaults.ExitError
	}
	return exitStatus(err, stderr)
}

func exitStatus(err error, stderr io.Writer) int {
	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
		return defaults.ExitSuccess
	case errors.Is(err, errUsage):
		// the flag set already printed the problem
		return defaults.ExitError
	}
	ui.NewPrinter(stderr).Error(err.Error())
	return core.ExitCode(err)
}

func printUsage(w io.Writer) {
	p := ui.NewPrinter(w)
	p.Banner()
	p.Section("Usage")
	p.Text("  argus <command> [flags] [args]")
	p.Section("Commands")
	p.Field("scan", "scan a WordPress site (-mode safe|aggressive)")
	p.Field("consent gen", "create a consent token for a domain")
	p.Field("consent verify", "verify a token over HTTP or DNS")
	p.Field("consent status", "show the consent state of a domain")
	p.Field("history list", "list recorded scans")
	p.Field("history show", "show one scan and its findings")
	p.Field("history critical", "list critical findings across scans")
	p.Field("serve", "serve scan history over a read-only HTTP API")
	p.Field("checks", "list the built-in checks")
	p.Field("version", "print the version")
	p.Section("Exit codes")
	p.Field("0", "scan completed")
	p.Field("1", "error (network, database, consent, config)")
	p.Field("2", "target not recognized as WordPress")
	p.Field("130", "interrupted")
	p.Text("")
	p.Text("  Run 'argus <command> -h' for command flags.")
}
