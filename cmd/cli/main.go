package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/tapminer/tapminer/pkg/ui"
)

func printUsage() {
	ui.PrintBanner()

	fmt.Fprintln(os.Stderr, "Passive identity miner for opaque social-media traffic.")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "COMMANDS")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintf(os.Stderr, "  %s  observe live browser traffic and mine it\n", ui.ConfigValueStyle.Render("watch "))
	fmt.Fprintf(os.Stderr, "  %s  actively fetch one profile by username or id\n", ui.ConfigValueStyle.Render("fetch "))
	fmt.Fprintf(os.Stderr, "  %s  mine a saved page or response body from disk\n", ui.ConfigValueStyle.Render("scan  "))
	fmt.Fprintf(os.Stderr, "  %s  resolve a username against the persisted cache\n", ui.ConfigValueStyle.Render("lookup"))
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "EXAMPLES")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "  tapminer watch -url https://www.threads.com -bridge 127.0.0.1:8765")
	fmt.Fprintln(os.Stderr, "  tapminer scan -file saved-page.html")
	fmt.Fprintln(os.Stderr, "  tapminer lookup -u dora.explorer")
	fmt.Fprintln(os.Stderr)
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "watch":
		runWatch()
	case "fetch":
		runFetch()
	case "scan":
		runScan()
	case "lookup":
		runLookup()
	case "-h", "--help", "help":
		printUsage()
		os.Exit(0)
	case "-v", "--version", "version":
		fmt.Printf("tapminer v%s (%s, %s)\n", ui.Version, ui.Commit, ui.BuildDate)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// newLogger builds the process logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func fatal(msg string, err error) {
	ui.PrintError(fmt.Sprintf("%s: %v", msg, err))
	os.Exit(1)
}
