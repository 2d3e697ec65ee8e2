package session

import (
	"log/slog"
	"net/url"

	"github.com/tapminer/tapminer/internal/pagetext"
	"github.com/tapminer/tapminer/pkg/regexcache"
)

// pagePatterns lists, per field, the ordered markup patterns tried on
// the full page text. First match wins within a field's list; the
// alternates cover the several textual encodings the host has shipped.
var pagePatterns = []struct {
	field    string
	patterns []string
}{
	{FieldDTSG, []string{
		`"DTSGInitialData"[^\}]{0,80}?"token":"([^"]+)"`,
		`name="fb_dtsg" value="([^"]+)"`,
		`\bfb_dtsg=([A-Za-z0-9_:.-]+)`,
	}},
	{FieldLSD, []string{
		`"LSD"[^\}]{0,80}?"token":"([^"]+)"`,
		`name="lsd" value="([^"]+)"`,
	}},
	{FieldJazoest, []string{
		`name="jazoest" value="(\d+)"`,
		`\bjazoest=(\d+)`,
	}},
	{FieldUserID, []string{
		`"USER_ID":"(\d+)"`,
		`"actorID":"(\d+)"`,
	}},
	{FieldHs, []string{
		`"haste_session":"([^"]+)"`,
	}},
	{FieldHsi, []string{
		`"hsi":"(\d+)"`,
	}},
	{FieldSpinR, []string{
		`"__spin_r":(\d+)`,
	}},
	{FieldSpinB, []string{
		`"__spin_b":"(\w+)"`,
	}},
	{FieldSpinT, []string{
		`"__spin_t":(\d+)`,
	}},
	{FieldDpr, []string{
		`"dpr":(\d+(?:\.\d+)?)`,
	}},
}

// scriptPatterns are tried only against inline script text. The client
// revision and connection class are emitted by bootstrap scripts, not
// markup attributes.
var scriptPatterns = []struct {
	field    string
	patterns []string
}{
	{FieldRev, []string{
		`"client_revision":(\d+)`,
		`"rev":(\d{6,})`,
	}},
	{FieldCcg, []string{
		`"connectionClass":"(\w+)"`,
	}},
}

// Extractor derives session tokens from observed request bodies and
// from static page content.
type Extractor struct {
	bag *Bag
	log *slog.Logger
}

// NewExtractor creates an extractor writing into bag. logger may be nil.
func NewExtractor(bag *Bag, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{bag: bag, log: logger}
}

// CaptureFromRequestBody copies the token allow-list out of a parsed
// request body, if the body carries the CSRF-style token that marks it
// as an authenticated first-party request. Absent fields become empty
// values; absence is never a failure. Returns true on capture.
func (e *Extractor) CaptureFromRequestBody(form url.Values) bool {
	if form.Get(FieldDTSG) == "" {
		return false
	}
	b := &TokenBag{}
	for _, key := range captureFields {
		*b.fieldPtr(key) = form.Get(key)
	}
	e.bag.replace(b)
	e.log.Debug("session tokens captured from request body",
		slog.String("user", b.UserID))
	return true
}

// ScanPage applies the token patterns to page markup and its inline
// scripts, merging whatever matched into the bag without clobbering
// fields already captured from traffic. Finding nothing is logged,
// never an error. Returns true when at least one field matched.
func (e *Extractor) ScanPage(page string) bool {
	found := make(map[string]string)
	for _, entry := range pagePatterns {
		if v := firstMatch(page, entry.patterns); v != "" {
			found[entry.field] = v
		}
	}
	scripts := pagetext.InlineScripts(page)
	for _, entry := range scriptPatterns {
		for _, script := range scripts {
			if v := firstMatch(script, entry.patterns); v != "" {
				found[entry.field] = v
				break
			}
		}
	}
	if len(found) == 0 {
		e.log.Debug("page scan found no session tokens")
		return false
	}
	e.bag.fill(found)
	return true
}

// firstMatch returns the first capture group of the first pattern that
// matches, in list order.
func firstMatch(text string, patterns []string) string {
	for _, p := range patterns {
		re, err := regexcache.Get(p)
		if err != nil {
			continue
		}
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}

// All patterns are literals; compile them once at init so a typo
// panics at startup rather than silently never matching.
func init() {
	for _, entry := range pagePatterns {
		for _, p := range entry.patterns {
			regexcache.MustGet(p)
		}
	}
	for _, entry := range scriptPatterns {
		for _, p := range entry.patterns {
			regexcache.MustGet(p)
		}
	}
}
