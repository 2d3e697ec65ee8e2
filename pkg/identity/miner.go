package identity

import (
	"log/slog"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/tapminer/tapminer/internal/pagetext"
	"github.com/tapminer/tapminer/pkg/jsonutil"
	"github.com/tapminer/tapminer/pkg/metrics"
	"github.com/tapminer/tapminer/pkg/regexcache"
)

// proximityWindow bounds how far apart (in characters) a pk and a
// username occurrence may sit in near-JSON text and still be paired.
// Wide enough to survive minified payloads the real parser rejects,
// narrow enough to keep mispairing rare.
const proximityWindow = 500

var (
	routeKeyRE = regexcache.MustGet(`^/@([\w.]+)`)
	loosePkRE  = regexcache.MustGet(`"pk"\s*:\s*"?(\d+)"?`)
	looseUserRE = regexcache.MustGet(`"username"\s*:\s*"([\w.]+)"`)
)

// routeIDPaths are the two alternate property paths a bulk-route
// descriptor may carry its user id at. The shape changes between
// server deploys; either may be absent.
var routeIDPaths = [][]string{
	{"rootView", "props", "user_id"},
	{"route", "rootView", "props", "user_id"},
}

// Miner discovers username/identifier pairs in arbitrary JSON trees.
// Discoveries go into the shared Map; newly inserted pairs are handed
// to onDiscover for the debounced broadcast.
type Miner struct {
	ids        *Map
	log        *slog.Logger
	onDiscover func(username, id string)
}

// NewMiner creates a miner writing into ids. logger may be nil;
// onDiscover may be nil when no broadcast is wanted.
func NewMiner(ids *Map, logger *slog.Logger, onDiscover func(username, id string)) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Miner{ids: ids, log: logger, onDiscover: onDiscover}
}

func (mn *Miner) add(username, id string) bool {
	if !mn.ids.Add(username, id) {
		return false
	}
	metrics.IdentitiesDiscovered.Inc()
	if mn.onDiscover != nil {
		mn.onDiscover(username, id)
	}
	return true
}

// ExtractFromTree walks a decoded JSON value and inserts every valid
// pair it finds. Each object node is checked for an id+username pair,
// a pk+username pair, and a nested user object; the checks are
// independent and non-exclusive. Recursion continues into every array
// element and object value even after a match fires, because matches
// nest. Returns the number of new pairs inserted.
func (mn *Miner) ExtractFromTree(node any) int {
	return mn.walk(node)
}

func (mn *Miner) walk(node any) int {
	found := 0
	switch n := node.(type) {
	case map[string]any:
		found += mn.matchNode(n)
		// Sorted keys keep first-writer-wins deterministic when one
		// payload carries conflicting ids for a username.
		for _, k := range sortedKeys(n) {
			found += mn.walk(n[k])
		}
	case []any:
		for _, v := range n {
			found += mn.walk(v)
		}
	}
	return found
}

func sortedKeys(n map[string]any) []string {
	keys := make([]string, 0, len(n))
	for k := range n {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (mn *Miner) matchNode(n map[string]any) int {
	found := 0
	if username, ok := stringValue(n["username"]); ok {
		if id, ok := idValue(n["id"]); ok && mn.add(username, id) {
			found++
		}
		if id, ok := idValue(n["pk"]); ok && mn.add(username, id) {
			found++
		}
	}
	if user, ok := n["user"].(map[string]any); ok {
		if username, ok := stringValue(user["username"]); ok {
			id, ok := idValue(user["pk"])
			if !ok {
				id, ok = idValue(user["id"])
			}
			if ok && mn.add(username, id) {
				found++
			}
		}
	}
	return found
}

// ExtractFromRouteBulk mines the bulk-route payload: route keys of the
// form /@<username>... mapped to descriptors nesting a user id at one
// of two alternate paths. Keys arrive JSON-string-escaped and
// percent-escaped; either unescape step failing falls back to the
// text it had so far. Returns the number of new pairs inserted.
func (mn *Miner) ExtractFromRouteBulk(routes map[string]any) int {
	found := 0
	for _, key := range sortedKeys(routes) {
		desc := routes[key]
		path := unescapeRouteKey(key)
		if unescaped, err := url.PathUnescape(path); err == nil {
			path = unescaped
		}
		m := routeKeyRE.FindStringSubmatch(path)
		if m == nil {
			continue
		}
		descriptor, ok := desc.(map[string]any)
		if !ok {
			continue
		}
		id := ""
		for _, p := range routeIDPaths {
			if v, ok := idValue(dig(descriptor, p...)); ok {
				id = v
				break
			}
		}
		if id == "" {
			continue
		}
		if mn.add(m[1], id) {
			found++
		}
	}
	return found
}

// ScanPage mines inline scripts in page markup. Scripts holding valid
// JSON get a full parse plus tree extraction; everything else falls
// back to loose pk/username pairing by character proximity. Returns
// the number of new pairs inserted.
func (mn *Miner) ScanPage(page string) int {
	found := 0
	for _, script := range pagetext.InlineScripts(page) {
		trimmed := strings.TrimSpace(script)
		if jsonutil.Valid([]byte(trimmed)) {
			var tree any
			if err := jsonutil.UnmarshalString(trimmed, &tree); err == nil {
				found += mn.walk(tree)
				continue
			}
			metrics.ParseFailures.WithLabelValues("page_script").Inc()
			mn.log.Debug("page script parse failed, falling back to loose pairing",
				slog.Int("len", len(trimmed)))
		}
		found += mn.scanLooseText(script)
	}
	return found
}

// scanLooseText pairs pk and username occurrences in near-JSON text.
// Each pk takes the first username occurring within proximityWindow
// characters of it (first-match, not nearest-by-distance).
func (mn *Miner) scanLooseText(text string) int {
	pks := loosePkRE.FindAllStringSubmatchIndex(text, -1)
	if len(pks) == 0 {
		return 0
	}
	users := looseUserRE.FindAllStringSubmatchIndex(text, -1)
	if len(users) == 0 {
		return 0
	}
	found := 0
	for _, pk := range pks {
		id := text[pk[2]:pk[3]]
		for _, u := range users {
			if absInt(u[0]-pk[0]) > proximityWindow {
				continue
			}
			if mn.add(text[u[2]:u[3]], id) {
				found++
			}
			break
		}
	}
	return found
}

// unescapeRouteKey undoes one level of JSON string escaping by parsing
// the key as a quoted JSON string. Keys that fail to parse are used
// as-is; a missed route beats a dropped payload.
func unescapeRouteKey(key string) string {
	var s string
	if err := jsonutil.UnmarshalString(`"`+key+`"`, &s); err != nil {
		return key
	}
	return s
}

// dig walks nested objects along path, returning nil when any hop is
// missing or not an object.
func dig(node map[string]any, path ...string) any {
	var current any = node
	for _, key := range path {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = obj[key]
	}
	return current
}

// stringValue extracts a non-empty string.
func stringValue(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok && s != ""
}

// idValue normalizes an identifier that may arrive as a digit string
// or a JSON number. Non-integral numbers are rejected.
func idValue(v any) (string, bool) {
	switch n := v.(type) {
	case string:
		return n, ValidID(n)
	case float64:
		if n < 0 || n != math.Trunc(n) {
			return "", false
		}
		return strconv.FormatFloat(n, 'f', -1, 64), true
	case int64:
		if n < 0 {
			return "", false
		}
		return strconv.FormatInt(n, 10), true
	}
	return "", false
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
