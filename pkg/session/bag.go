// Package session captures the ambient credential and context fields
// needed to synthesize authenticated requests against the host
// service. Tokens arrive two ways: passively, copied out of the host
// page's own outgoing request bodies, and actively, pattern-matched
// out of page markup and inline scripts.
package session

import (
	"net/url"
	"sync"
)

// Wire names of the captured fields, matching what the host service
// sends in its own form-encoded requests.
const (
	FieldDTSG     = "fb_dtsg"
	FieldLSD      = "lsd"
	FieldJazoest  = "jazoest"
	FieldUserID   = "__user"
	FieldA        = "__a"
	FieldReq      = "__req"
	FieldHs       = "__hs"
	FieldDpr      = "dpr"
	FieldCcg      = "__ccg"
	FieldRev      = "__rev"
	FieldS        = "__s"
	FieldHsi      = "__hsi"
	FieldDyn      = "__dyn"
	FieldCsr      = "__csr"
	FieldCometReq = "__comet_req"
	FieldSpinR    = "__spin_r"
	FieldSpinB    = "__spin_b"
	FieldSpinT    = "__spin_t"
)

// captureFields is the fixed allow-list copied on passive capture.
var captureFields = []string{
	FieldDTSG, FieldLSD, FieldJazoest, FieldUserID, FieldA, FieldReq,
	FieldHs, FieldDpr, FieldCcg, FieldRev, FieldS, FieldHsi, FieldDyn,
	FieldCsr, FieldCometReq, FieldSpinR, FieldSpinB, FieldSpinT,
}

// fieldDefaults are applied when a field is wholly absent after a page
// scan, and independently when encoding a fetch body.
var fieldDefaults = map[string]string{
	FieldUserID: "0",
	FieldA:      "1",
	FieldReq:    "29",
	FieldSpinB:  "www",
}

// TokenBag is a flat record of named credential and context fields.
// All fields are optional strings; an empty field means "not seen yet".
type TokenBag struct {
	DTSG     string // CSRF double-submit token
	LSD      string // living session token
	Jazoest  string
	UserID   string
	A        string
	Req      string // request counter
	Hs       string // haste session
	Dpr      string // device pixel ratio hint
	Ccg      string // connection class
	Rev      string // client revision
	S        string
	Hsi      string
	Dyn      string
	Csr      string
	CometReq string
	SpinR    string
	SpinB    string // domain marker
	SpinT    string
}

// fieldPtr maps a wire name to the bag field holding it.
func (b *TokenBag) fieldPtr(key string) *string {
	switch key {
	case FieldDTSG:
		return &b.DTSG
	case FieldLSD:
		return &b.LSD
	case FieldJazoest:
		return &b.Jazoest
	case FieldUserID:
		return &b.UserID
	case FieldA:
		return &b.A
	case FieldReq:
		return &b.Req
	case FieldHs:
		return &b.Hs
	case FieldDpr:
		return &b.Dpr
	case FieldCcg:
		return &b.Ccg
	case FieldRev:
		return &b.Rev
	case FieldS:
		return &b.S
	case FieldHsi:
		return &b.Hsi
	case FieldDyn:
		return &b.Dyn
	case FieldCsr:
		return &b.Csr
	case FieldCometReq:
		return &b.CometReq
	case FieldSpinR:
		return &b.SpinR
	case FieldSpinB:
		return &b.SpinB
	case FieldSpinT:
		return &b.SpinT
	}
	return nil
}

// FormValues encodes the bag as a form body, defaulting each field
// independently. Every field is always present; the host endpoint
// rejects bodies with missing keys more readily than empty ones.
func (b *TokenBag) FormValues() url.Values {
	form := url.Values{}
	for _, key := range captureFields {
		v := *b.fieldPtr(key)
		if v == "" {
			v = fieldDefaults[key]
		}
		form.Set(key, v)
	}
	// av mirrors the acting user id.
	form.Set("av", form.Get(FieldUserID))
	return form
}

// Bag is the process-wide holder for the single token bag. The inner
// bag stays nil until the first successful capture, which is how the
// fetcher knows no organic traffic has been observed yet.
type Bag struct {
	mu  sync.RWMutex
	cur *TokenBag
}

// NewBag returns an empty holder.
func NewBag() *Bag {
	return &Bag{}
}

// Get returns a copy of the current bag. ok is false before the first
// capture.
func (h *Bag) Get() (TokenBag, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.cur == nil {
		return TokenBag{}, false
	}
	return *h.cur, true
}

// replace installs a freshly captured bag wholesale (last writer wins
// per capture).
func (h *Bag) replace(b *TokenBag) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cur = b
}

// fill sets fields found by a page scan without clobbering fields the
// traffic path already populated, then applies defaults for fields
// still wholly absent. found maps wire names to scanned values.
func (h *Bag) fill(found map[string]string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cur == nil {
		h.cur = &TokenBag{}
	}
	for key, v := range found {
		p := h.cur.fieldPtr(key)
		if p != nil && *p == "" {
			*p = v
		}
	}
	for key, def := range fieldDefaults {
		if p := h.cur.fieldPtr(key); p != nil && *p == "" {
			*p = def
		}
	}
}
