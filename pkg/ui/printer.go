package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/tapminer/tapminer/pkg/dispatch"
)

// maxPairsShown caps how many pairs an identity batch line lists
// before collapsing the rest into a count.
const maxPairsShown = 6

// Printer renders dispatched events as live terminal lines, one event
// per line in nuclei style:
//
//	[15:04:05] [profile] [passive] dora.explorer name="Dora Explorer"
//	[15:04:05] [identities] 3 new: a=1 b=2 c=3
//	[15:04:05] [rate-limit] https://... backing off
type Printer struct {
	mu         sync.Mutex
	w          io.Writer
	timestamps bool
}

// NewPrinter builds a printer writing to w; nil w means stderr.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stderr
	}
	return &Printer{w: w, timestamps: true}
}

// SetTimestamps toggles the leading timestamp bracket.
func (p *Printer) SetTimestamps(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timestamps = on
}

// EventTypes implements dispatch.Hook; the printer takes everything.
func (p *Printer) EventTypes() []dispatch.EventType { return nil }

// OnEvent implements dispatch.Hook.
func (p *Printer) OnEvent(_ context.Context, event dispatch.Event) error {
	if IsSilent() {
		return nil
	}

	var line string
	switch e := event.(type) {
	case *dispatch.ProfileEvent:
		line = p.profileLine(e)
	case *dispatch.IdentitiesEvent:
		line = p.identitiesLine(e)
	case *dispatch.RateLimitEvent:
		line = p.rateLimitLine(e)
	default:
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, line)
	return nil
}

func (p *Printer) profileLine(e *dispatch.ProfileEvent) string {
	var b strings.Builder
	p.writePrefix(&b, e)
	bracket(&b, SuccessStyle.Render("profile"))
	bracket(&b, SourceStyle(e.Source).Render(e.Source))
	b.WriteString(UsernameStyle.Render(e.Profile.Username))
	if e.Profile.IDOnly {
		b.WriteString(BracketStyle.Render(" (id only)"))
	}
	if e.Profile.DisplayName != "" {
		fmt.Fprintf(&b, " name=%q", e.Profile.DisplayName)
	}
	if e.Profile.Joined != "" {
		b.WriteString(" joined=" + e.Profile.Joined)
	}
	if e.Profile.Location != "" {
		b.WriteString(" location=" + e.Profile.Location)
	}
	return b.String()
}

func (p *Printer) identitiesLine(e *dispatch.IdentitiesEvent) string {
	var b strings.Builder
	p.writePrefix(&b, e)
	bracket(&b, VersionStyle.Render("identities"))
	fmt.Fprintf(&b, "%d new:", len(e.Pairs))

	names := make([]string, 0, len(e.Pairs))
	for name := range e.Pairs {
		names = append(names, name)
	}
	sort.Strings(names)
	shown := names
	if len(shown) > maxPairsShown {
		shown = shown[:maxPairsShown]
	}
	for _, name := range shown {
		b.WriteString(" ")
		b.WriteString(UsernameStyle.Render(name))
		b.WriteString("=")
		b.WriteString(IDStyle.Render(e.Pairs[name]))
	}
	if rest := len(names) - len(shown); rest > 0 {
		fmt.Fprintf(&b, " %s", BracketStyle.Render(fmt.Sprintf("(+%d more)", rest)))
	}
	return b.String()
}

func (p *Printer) rateLimitLine(e *dispatch.RateLimitEvent) string {
	var b strings.Builder
	p.writePrefix(&b, e)
	bracket(&b, WarnStyle.Render("rate-limit"))
	if e.URL != "" {
		b.WriteString(URLStyle.Render(e.URL))
		b.WriteString(" ")
	}
	if e.TargetID != "" {
		fmt.Fprintf(&b, "target=%s ", e.TargetID)
	}
	b.WriteString(WarnStyle.Render("backing off"))
	return b.String()
}

func (p *Printer) writePrefix(b *strings.Builder, e dispatch.Event) {
	if p.timestamps {
		bracket(b, TimestampStyle.Render(e.Timestamp().Format("15:04:05")))
	}
}

func bracket(b *strings.Builder, inner string) {
	b.WriteString(BracketStyle.Render("["))
	b.WriteString(inner)
	b.WriteString(BracketStyle.Render("] "))
}
