// Package profile reconstructs human profile fields from the host
// service's server-rendered "about this profile" payload: a deeply
// nested component tree describing UI, not data. Field meaning is
// recovered positionally (label ordinals) and by pattern, never by
// label text, so the parser works identically across locales.
package profile

import (
	"errors"
	"sort"
	"strings"

	"github.com/tapminer/tapminer/pkg/jsonutil"
	"github.com/tapminer/tapminer/pkg/regexcache"
)

// AntiHijackPrefix is the guard string some JSON responses carry to
// prevent direct script-tag execution. It must be stripped before
// parsing.
const AntiHijackPrefix = "for (;;);"

// TrustedImageHost marks avatar URLs served from the host's CDN.
// Image components pointing anywhere else are ignored.
const TrustedImageHost = "fbcdn.net"

// Label ordinals in the component tree. The first label is the display
// name block, which is recovered more reliably from the rich-text
// component, so only joined and location are read positionally.
const (
	ordinalJoined   = 2
	ordinalLocation = 3
)

// Record holds the profile fields recovered from one response. The
// construction counters live on the unexported walker, never here, so
// a Record is externally clean by construction.
type Record struct {
	DisplayName  string `json:"displayName,omitempty"`
	Username     string `json:"username,omitempty"`
	Joined       string `json:"joined,omitempty"`
	Location     string `json:"location,omitempty"`
	ProfileImage string `json:"profileImage,omitempty"`

	// IDOnly marks a record whose username was synthesized from a raw
	// identifier because no handle could be resolved.
	IDOnly bool `json:"idOnly,omitempty"`
}

// Empty reports whether the record carries nothing worth emitting.
func (r *Record) Empty() bool {
	return r.Username == "" && r.Joined == "" && r.Location == ""
}

var (
	// "Jane Doe (@jane.doe)" — closing paren present.
	nameWithParenRE = regexcache.MustGet(`^(.*?)\s*\(@([\w.]+)\)`)
	// "Jane Doe (@jane.doe" — paren may render as a separate fragment.
	nameOpenParenRE = regexcache.MustGet(`^(.*?)\s*\(@([\w.]+)`)
	// Bare "@jane.doe" anywhere.
	bareHandleRE = regexcache.MustGet(`@([\w.]+)`)
)

// ErrUnparseable is wrapped by Parse when the payload is not JSON.
var ErrUnparseable = errors.New("profile payload is not parseable JSON")

// Parse interprets raw response text and reconstructs a profile
// record. The anti-hijacking prefix is stripped when present. A parse
// failure yields ErrUnparseable; an unrecognized but valid tree yields
// an empty record and no error.
func Parse(raw string) (*Record, error) {
	raw = StripGuard(raw)
	var tree any
	if err := jsonutil.UnmarshalString(raw, &tree); err != nil {
		return nil, errors.Join(ErrUnparseable, err)
	}
	w := &walker{record: &Record{}}
	w.walk(tree)
	return w.record, nil
}

// StripGuard removes the anti-hijacking prefix if present.
func StripGuard(raw string) string {
	return strings.TrimPrefix(strings.TrimLeft(raw, " \t\r\n"), AntiHijackPrefix)
}

// walker carries the construction bookkeeping: how many labels have
// been seen and which one is pending a value. Both die with the walk.
type walker struct {
	record       *Record
	labelCount   int
	pendingLabel int // ordinal of the last label seen, 0 when consumed
}

// walk is depth-first and exhaustive: it recurses into every array
// element and object value whether or not a tag matched at the current
// node. The label/value pairs and the name block are siblings at
// unpredictable depths, not a fixed schema.
func (w *walker) walk(node any) {
	switch n := node.(type) {
	case map[string]any:
		w.matchComponent(n)
		// Sorted keys keep the walk deterministic; label ordinals are
		// positional, so traversal order is load-bearing.
		keys := make([]string, 0, len(n))
		for k := range n {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			w.walk(n[k])
		}
	case []any:
		for _, v := range n {
			w.walk(v)
		}
	}
}

func (w *walker) matchComponent(n map[string]any) {
	typ, _ := n["type"].(string)
	switch typ {
	case "text":
		style, _ := n["style"].(string)
		text, _ := n["text"].(string)
		switch style {
		case "semibold":
			// A label. Record its ordinal and leave it pending.
			w.labelCount++
			w.pendingLabel = w.labelCount
		case "normal":
			if w.pendingLabel == 0 {
				return
			}
			w.assignValue(w.pendingLabel, text)
			// Clear so stray normal text cannot attach to a stale label.
			w.pendingLabel = 0
		}
	case "rich_text":
		if w.record.Username != "" {
			return
		}
		w.matchRichText(n)
	case "image":
		if w.record.ProfileImage != "" {
			return
		}
		if u, _ := n["url"].(string); strings.Contains(u, TrustedImageHost) {
			w.record.ProfileImage = u
		}
	}
}

// assignValue maps a label ordinal to its semantic field. Ordinal 1 is
// the display name block, deliberately ignored here; the rich-text
// component recovers the name together with the handle.
func (w *walker) assignValue(ordinal int, text string) {
	switch ordinal {
	case ordinalJoined:
		if w.record.Joined == "" {
			w.record.Joined = text
		}
	case ordinalLocation:
		if w.record.Location == "" {
			w.record.Location = text
		}
	}
}

// matchRichText concatenates the child text spans and tries the name
// patterns in declining strictness. First success wins; the walk is
// depth-first and the canonical name block comes earliest, so the
// username is never overwritten by later matches.
func (w *walker) matchRichText(n map[string]any) {
	var sb strings.Builder
	children, _ := n["children"].([]any)
	for _, c := range children {
		span, ok := c.(map[string]any)
		if !ok {
			continue
		}
		if t, _ := span["type"].(string); t != "text_span" {
			continue
		}
		if text, _ := span["text"].(string); text != "" {
			sb.WriteString(text)
		}
	}
	full := sb.String()
	if full == "" {
		return
	}

	if m := nameWithParenRE.FindStringSubmatch(full); m != nil {
		w.setName(m[1], m[2])
		return
	}
	if m := nameOpenParenRE.FindStringSubmatch(full); m != nil {
		w.setName(m[1], m[2])
		return
	}
	if m := bareHandleRE.FindStringSubmatchIndex(full); m != nil {
		username := full[m[2]:m[3]]
		// Best effort: whatever precedes the handle, minus the paren
		// that usually introduces it, is probably the display name.
		name := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(full[:m[0]]), "("))
		w.setName(name, username)
	}
}

func (w *walker) setName(displayName, username string) {
	if w.record.Username == "" {
		w.record.Username = username
	}
	if w.record.DisplayName == "" && displayName != "" {
		w.record.DisplayName = displayName
	}
}
