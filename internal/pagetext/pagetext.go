// Package pagetext pulls inline script content out of page markup.
// Both scan paths (token patterns and identity mining) operate on the
// text of inline <script> elements, so extraction lives in one place.
package pagetext

import (
	"strings"

	"golang.org/x/net/html"
)

// InlineScripts returns the text content of every inline <script>
// element in the page, in document order. Scripts with a src attribute
// carry no inline content and are skipped. Markup that fails to
// tokenize cleanly yields whatever was recovered before the error;
// the tokenizer treats EOF as a normal stop.
func InlineScripts(page string) []string {
	var scripts []string
	z := html.NewTokenizer(strings.NewReader(page))
	inScript := false
	external := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return scripts
		case html.StartTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "script" {
				continue
			}
			inScript = true
			external = false
			for hasAttr {
				var key, val []byte
				key, val, hasAttr = z.TagAttr()
				if string(key) == "src" && len(val) > 0 {
					external = true
				}
			}
		case html.TextToken:
			if inScript && !external {
				if text := strings.TrimSpace(string(z.Text())); text != "" {
					scripts = append(scripts, text)
				}
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if string(name) == "script" {
				inScript = false
			}
		}
	}
}
