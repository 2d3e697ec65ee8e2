package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapminer/tapminer/pkg/jsonutil"
)

const aboutPayload = `for (;;);{
	"tree": {
		"children": [
			{"type": "rich_text", "children": [
				{"type": "text_span", "text": "Jane Doe ("},
				{"type": "text_span", "text": "@jane.doe)"}
			]},
			{"type": "image", "url": "https://scontent.fbcdn.net/v/avatar.jpg"},
			{"type": "text", "style": "semibold", "text": "Name"},
			{"type": "text", "style": "normal", "text": "Jane Doe"},
			{"type": "text", "style": "semibold", "text": "Joined"},
			{"type": "text", "style": "normal", "text": "March 2020"},
			{"type": "text", "style": "semibold", "text": "Location"},
			{"type": "text", "style": "normal", "text": "Taiwan"}
		]
	}
}`

func TestParse_FullPayload(t *testing.T) {
	rec, err := Parse(aboutPayload)
	require.NoError(t, err)

	assert.Equal(t, "Jane Doe", rec.DisplayName)
	assert.Equal(t, "jane.doe", rec.Username)
	assert.Equal(t, "March 2020", rec.Joined)
	assert.Equal(t, "Taiwan", rec.Location)
	assert.Equal(t, "https://scontent.fbcdn.net/v/avatar.jpg", rec.ProfileImage)
}

func TestParse_PrefixedEqualsUnprefixed(t *testing.T) {
	plain := `{"tree": {"children": [{"type": "text", "style": "semibold", "text": "A"},
		{"type": "text", "style": "normal", "text": "ignored"},
		{"type": "text", "style": "semibold", "text": "Joined"},
		{"type": "text", "style": "normal", "text": "May 2021"}]}}`

	unprefixed, err := Parse(plain)
	require.NoError(t, err)
	prefixed, err := Parse(AntiHijackPrefix + plain)
	require.NoError(t, err)

	assert.Equal(t, unprefixed, prefixed)
	assert.Equal(t, "May 2021", prefixed.Joined)
}

func TestParse_Unparseable(t *testing.T) {
	_, err := Parse("for (;;);<html>rate limited</html>")
	assert.ErrorIs(t, err, ErrUnparseable)
}

func TestParse_RichTextPatterns(t *testing.T) {
	cases := []struct {
		name      string
		spans     []string
		wantName  string
		wantUser  string
	}{
		{"closed paren", []string{"Jane Doe (@jane.doe)"}, "Jane Doe", "jane.doe"},
		{"paren in separate fragment", []string{"Jane Doe (@jane.doe"}, "Jane Doe", "jane.doe"},
		{"bare handle", []string{"see @solo for details"}, "see", "solo"},
		{"bare handle no name", []string{"@only_handle"}, "", "only_handle"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spans := make([]any, 0, len(tc.spans))
			for _, s := range tc.spans {
				spans = append(spans, map[string]any{"type": "text_span", "text": s})
			}
			w := &walker{record: &Record{}}
			w.walk(map[string]any{"type": "rich_text", "children": spans})
			assert.Equal(t, tc.wantUser, w.record.Username)
			assert.Equal(t, tc.wantName, w.record.DisplayName)
		})
	}
}

func TestParse_UsernameFirstWriterWins(t *testing.T) {
	payload := `{"a": [
		{"type": "rich_text", "children": [{"type": "text_span", "text": "First (@first)"}]},
		{"type": "rich_text", "children": [{"type": "text_span", "text": "Second (@second)"}]}
	]}`
	rec, err := Parse(payload)
	require.NoError(t, err)
	assert.Equal(t, "first", rec.Username)
}

func TestParse_StaleLabelDoesNotMisattribute(t *testing.T) {
	// The value after "Joined" consumes the pending label; the stray
	// normal text that follows must not land anywhere.
	payload := `{"c": [
		{"type": "text", "style": "semibold", "text": "Name"},
		{"type": "text", "style": "normal", "text": "n"},
		{"type": "text", "style": "semibold", "text": "Joined"},
		{"type": "text", "style": "normal", "text": "June 2019"},
		{"type": "text", "style": "normal", "text": "stray"}
	]}`
	rec, err := Parse(payload)
	require.NoError(t, err)
	assert.Equal(t, "June 2019", rec.Joined)
	assert.Empty(t, rec.Location)
}

func TestParse_UntrustedImageHostIgnored(t *testing.T) {
	payload := `{"c": [
		{"type": "image", "url": "https://evil.example.com/avatar.jpg"},
		{"type": "image", "url": "https://scontent.fbcdn.net/real.jpg"}
	]}`
	rec, err := Parse(payload)
	require.NoError(t, err)
	assert.Equal(t, "https://scontent.fbcdn.net/real.jpg", rec.ProfileImage)
}

func TestRecord_NoBookkeepingInJSON(t *testing.T) {
	rec, err := Parse(aboutPayload)
	require.NoError(t, err)

	data, err := jsonutil.Marshal(rec)
	require.NoError(t, err)

	var round map[string]any
	require.NoError(t, jsonutil.Unmarshal(data, &round))
	for key := range round {
		assert.Contains(t, []string{
			"displayName", "username", "joined", "location", "profileImage", "idOnly",
		}, key, "unexpected field in external record shape")
	}
	assert.NotContains(t, round, "labelCount")
	assert.NotContains(t, round, "pendingLabel")
}

func TestRecord_Empty(t *testing.T) {
	assert.True(t, (&Record{DisplayName: "x", ProfileImage: "y"}).Empty())
	assert.False(t, (&Record{Joined: "May"}).Empty())
	assert.False(t, (&Record{Username: "u"}).Empty())
}
