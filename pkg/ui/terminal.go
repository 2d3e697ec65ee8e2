// Package ui renders the CLI's human-facing output: the startup
// banner, config echo, and live event lines. Everything goes to
// stderr so stdout stays clean for piped data.
package ui

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Version information - can be overridden at build time via ldflags:
// go build -ldflags "-X github.com/tapminer/tapminer/pkg/ui.Version=1.0.0"
var (
	Version   = "0.4.1"
	BuildDate = "2026-08-28"
	Commit    = "dev"
)

// Global UI state
var (
	silentMode  bool
	noColorMode bool
	uiMu        sync.RWMutex
)

// SetSilent enables or disables silent mode (suppresses most output).
func SetSilent(silent bool) {
	uiMu.Lock()
	defer uiMu.Unlock()
	silentMode = silent
}

// IsSilent returns whether silent mode is enabled.
func IsSilent() bool {
	uiMu.RLock()
	defer uiMu.RUnlock()
	return silentMode
}

// SetNoColor disables colored output.
func SetNoColor(noColor bool) {
	uiMu.Lock()
	defer uiMu.Unlock()
	noColorMode = noColor
	if noColor {
		// ASCII profile renders every style as plain text.
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// IsNoColor returns whether color is disabled.
func IsNoColor() bool {
	uiMu.RLock()
	defer uiMu.RUnlock()
	return noColorMode
}

var (
	unicodeOnce sync.Once
	unicodeOK   bool
)

// UnicodeTerminal reports whether stderr can render Unicode glyphs.
// Returns false when output is piped, TERM is "dumb", or on Windows
// without Windows Terminal (legacy conhost fonts lack the glyphs).
func UnicodeTerminal() bool {
	unicodeOnce.Do(func() {
		if os.Getenv("TERM") == "dumb" {
			return
		}
		if !term.IsTerminal(int(os.Stderr.Fd())) {
			return
		}
		if runtime.GOOS == "windows" {
			unicodeOK = os.Getenv("WT_SESSION") != ""
			return
		}
		unicodeOK = true
	})
	return unicodeOK
}

// Icon returns unicode when the terminal supports it, ascii otherwise.
func Icon(unicode, ascii string) string {
	if UnicodeTerminal() {
		return unicode
	}
	return ascii
}

const bannerArt = `
 _                        _
| |_ __ _ _ __  _ __ ___ (_)_ __   ___ _ __
| __/ _' | '_ \| '_ ' _ \| | '_ \ / _ \ '__|
| || (_| | |_) | | | | | | | | | |  __/ |
 \__\__,_| .__/|_| |_| |_|_|_| |_|\___|_|
         |_|
`

const bannerSeparator = "________________________________________________"

// PrintBanner prints the application banner with version info.
func PrintBanner() {
	if IsSilent() {
		return
	}
	for _, line := range strings.Split(bannerArt, "\n") {
		if line != "" {
			fmt.Fprintln(os.Stderr, BannerStyle.Render(line))
		}
	}
	fmt.Fprintf(os.Stderr, "                 v%s\n\n", VersionStyle.Render(Version))
}

// PrintConfigLine prints a single config line in ffuf style:
//
//	:: Option              : Value
func PrintConfigLine(name, value string) {
	if IsSilent() || value == "" {
		return
	}
	fmt.Fprintf(os.Stderr, " :: %-20s : %s\n", ConfigLabelStyle.Render(name), ConfigValueStyle.Render(value))
}

// PrintConfigBanner echoes the active settings before capture starts.
// Keys print in a fixed order, then any stragglers.
func PrintConfigBanner(options map[string]string) {
	if IsSilent() {
		return
	}
	order := []string{
		"Host", "Profile Path", "Bulk Route Path",
		"Fetch Doc ID", "Fetch Rate", "Chromium", "Proxy",
		"Bridge", "Metrics", "Store",
	}
	printed := make(map[string]bool)
	for _, name := range order {
		if value, ok := options[name]; ok && value != "" {
			PrintConfigLine(name, value)
			printed[name] = true
		}
	}
	for name, value := range options {
		if !printed[name] && value != "" {
			PrintConfigLine(name, value)
		}
	}
	fmt.Fprintf(os.Stderr, "%s\n\n", DividerStyle.Render(bannerSeparator))
}

// PrintSuccess prints a success message (to stderr).
func PrintSuccess(message string) {
	if IsSilent() {
		return
	}
	fmt.Fprintln(os.Stderr, SuccessStyle.Render("  [+] "+message))
}

// PrintError prints an error message (to stderr).
func PrintError(message string) {
	fmt.Fprintln(os.Stderr, FailStyle.Render("  [X] "+message))
}

// PrintWarning prints a warning message (to stderr).
func PrintWarning(message string) {
	if IsSilent() {
		return
	}
	fmt.Fprintln(os.Stderr, WarnStyle.Render("  [!] "+message))
}

// PrintInfo prints an info message (to stderr).
func PrintInfo(message string) {
	if IsSilent() {
		return
	}
	fmt.Fprintf(os.Stderr, "  %s %s\n", BannerStyle.Render("*"), message)
}
