package webfetch

import (
	"html"
	"mime"
	"regexp"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

var (
	scriptPattern   = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	stylePattern    = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	noscriptPattern = regexp.MustCompile(`(?is)<noscript[^>]*>.*?</noscript>`)
	tagPattern      = regexp.MustCompile(`(?is)<[^>]+>`)
	titlePattern    = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

	// \p{Zs} folds non-breaking and other Unicode spaces left behind by
	// entity unescaping into plain spaces.
	spacePattern = regexp.MustCompile(`[\s\p{Zs}]+`)
)

// decodeBody converts a raw response body to UTF-8 using the charset
// declared in the Content-Type header. Unknown or missing charsets fall
// back to interpreting the bytes as UTF-8.
func decodeBody(raw []byte, contentType string) string {
	charset := "utf-8"
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		if cs := strings.TrimSpace(params["charset"]); cs != "" {
			charset = strings.ToLower(cs)
		}
	}
	if charset == "utf-8" || charset == "utf8" {
		return string(raw)
	}

	enc, err := htmlindex.Get(charset)
	if err != nil {
		return string(raw)
	}
	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(decoded)
}

// cleanHTML strips scripts, styles, and markup from an HTML document and
// collapses the remaining text into single-space separated prose.
func cleanHTML(htmlText string) string {
	content := scriptPattern.ReplaceAllString(htmlText, " ")
	content = stylePattern.ReplaceAllString(content, " ")
	content = noscriptPattern.ReplaceAllString(content, " ")
	content = tagPattern.ReplaceAllString(content, " ")
	content = html.UnescapeString(content)
	content = spacePattern.ReplaceAllString(content, " ")
	return strings.TrimSpace(content)
}

// extractTitle returns the document title, or "" when no <title> element
// is present.
func extractTitle(htmlText string) string {
	match := titlePattern.FindStringSubmatch(htmlText)
	if match == nil {
		return ""
	}
	title := spacePattern.ReplaceAllString(match[1], " ")
	return strings.TrimSpace(html.UnescapeString(title))
}
