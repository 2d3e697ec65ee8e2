package session

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureFromRequestBody(t *testing.T) {
	t.Run("captures allow-list when csrf token present", func(t *testing.T) {
		bag := NewBag()
		e := NewExtractor(bag, nil)

		form := url.Values{}
		form.Set(FieldDTSG, "AQHx:12")
		form.Set(FieldLSD, "lsd-token")
		form.Set(FieldUserID, "314159")
		form.Set("unrelated", "dropped")

		require.True(t, e.CaptureFromRequestBody(form))

		b, ok := bag.Get()
		require.True(t, ok)
		assert.Equal(t, "AQHx:12", b.DTSG)
		assert.Equal(t, "lsd-token", b.LSD)
		assert.Equal(t, "314159", b.UserID)
		assert.Empty(t, b.Rev, "absent fields become empty, not errors")
	})

	t.Run("ignores bodies without the csrf token", func(t *testing.T) {
		bag := NewBag()
		e := NewExtractor(bag, nil)

		form := url.Values{}
		form.Set(FieldLSD, "x")
		assert.False(t, e.CaptureFromRequestBody(form))

		_, ok := bag.Get()
		assert.False(t, ok, "bag stays unset until a real capture")
	})

	t.Run("later capture replaces earlier wholesale", func(t *testing.T) {
		bag := NewBag()
		e := NewExtractor(bag, nil)

		first := url.Values{FieldDTSG: {"one"}, FieldLSD: {"keep?"}}
		second := url.Values{FieldDTSG: {"two"}}
		e.CaptureFromRequestBody(first)
		e.CaptureFromRequestBody(second)

		b, _ := bag.Get()
		assert.Equal(t, "two", b.DTSG)
		assert.Empty(t, b.LSD, "replace is wholesale, not per-field merge")
	})
}

const samplePage = `<html><head>
<script>window.__bootstrap = {"client_revision":1009876543,"connectionClass":"EXCELLENT"};</script>
<script>require("X",[],{"DTSGInitialData":{},"token":"scantoken:99"});</script>
</head><body>
<form><input name="jazoest" value="22065"><input name="lsd" value="page-lsd"></form>
<script>sprinkle({"__spin_r":1009876543,"__spin_b":"www","__spin_t":1712345678,"hsi":"7345"});</script>
</body></html>`

func TestScanPage(t *testing.T) {
	t.Run("patterns and defaults", func(t *testing.T) {
		bag := NewBag()
		e := NewExtractor(bag, nil)

		require.True(t, e.ScanPage(samplePage))

		b, ok := bag.Get()
		require.True(t, ok)
		assert.Equal(t, "page-lsd", b.LSD)
		assert.Equal(t, "22065", b.Jazoest)
		assert.Equal(t, "1009876543", b.Rev)
		assert.Equal(t, "EXCELLENT", b.Ccg)
		assert.Equal(t, "7345", b.Hsi)
		assert.Equal(t, "1712345678", b.SpinT)

		// Defaults for fields wholly absent from the page.
		assert.Equal(t, "0", b.UserID)
		assert.Equal(t, "1", b.A)
		assert.Equal(t, "29", b.Req)
		assert.Equal(t, "www", b.SpinB)
	})

	t.Run("does not clobber traffic-captured fields", func(t *testing.T) {
		bag := NewBag()
		e := NewExtractor(bag, nil)

		form := url.Values{FieldDTSG: {"traffic-dtsg"}, FieldLSD: {"traffic-lsd"}}
		require.True(t, e.CaptureFromRequestBody(form))
		require.True(t, e.ScanPage(samplePage))

		b, _ := bag.Get()
		assert.Equal(t, "traffic-lsd", b.LSD, "traffic value outranks page scan")
		assert.Equal(t, "22065", b.Jazoest, "scan fills fields traffic left empty")
	})

	t.Run("empty page leaves bag unset", func(t *testing.T) {
		bag := NewBag()
		e := NewExtractor(bag, nil)
		assert.False(t, e.ScanPage("<html><body>nothing here</body></html>"))
		_, ok := bag.Get()
		assert.False(t, ok)
	})

	t.Run("dtsg precedence across encodings", func(t *testing.T) {
		bag := NewBag()
		e := NewExtractor(bag, nil)
		page := `<script>{"DTSGInitialData":{"token":"primary"}}</script>
			<input name="fb_dtsg" value="secondary">`
		require.True(t, e.ScanPage(page))
		b, _ := bag.Get()
		assert.Equal(t, "primary", b.DTSG)
	})
}

func TestTokenBag_FormValues(t *testing.T) {
	b := &TokenBag{DTSG: "tok", UserID: "42"}
	form := b.FormValues()

	assert.Equal(t, "tok", form.Get(FieldDTSG))
	assert.Equal(t, "42", form.Get(FieldUserID))
	assert.Equal(t, "42", form.Get("av"))
	// Independent per-field defaults.
	assert.Equal(t, "1", form.Get(FieldA))
	assert.Equal(t, "29", form.Get(FieldReq))
	assert.Equal(t, "www", form.Get(FieldSpinB))
	// Fields with no default are present but empty.
	assert.True(t, form.Has(FieldDyn))
	assert.Equal(t, "", form.Get(FieldDyn))
}
