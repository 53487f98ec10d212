package app

import (
	"fmt"
	"os"
	"strings"
)

// Exit codes shared by every command.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return exitUsage
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return exitOK
	case "health":
		return runHealth(args[1:])
	case "validate":
		return runValidate(args[1:])
	case "reconcile":
		return runReconcile(args[1:])
	case "schedule":
		return runSchedule(args[1:])
	case "deactivate":
		return runDeactivate(args[1:])
	case "stats":
		return runStats(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return exitUsage
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "jobdedup CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  jobdedup <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health      Verify config, store and redis connectivity")
	fmt.Fprintln(os.Stderr, "  validate    Check posting payload files at the intake boundary")
	fmt.Fprintln(os.Stderr, "  reconcile   Reconcile one batch file into canonical postings")
	fmt.Fprintln(os.Stderr, "  schedule    Reconcile a batch file on a cron schedule")
	fmt.Fprintln(os.Stderr, "  deactivate  Mark canonical postings unseen for a while as inactive")
	fmt.Fprintln(os.Stderr, "  stats       Print store statistics")
	fmt.Fprintln(os.Stderr, "  serve       Start the read-only Echo API server")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"jobdedup <command> -h\" for command-specific flags.")
}
