package newsletter

import (
	"regexp"
	"strings"
)

var (
	blockClosePattern = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|tr|table|blockquote)>`)
	brPattern         = regexp.MustCompile(`(?i)<br\s*/?>`)
	stylePattern      = regexp.MustCompile(`(?is)<(style|script|head)[^>]*>.*?</(style|script|head)>`)
	tagPattern        = regexp.MustCompile(`<[^>]*>`)
	excessNewlines    = regexp.MustCompile(`\n{3,}`)
)

var entityReplacer = strings.NewReplacer(
	"&nbsp;", " ",
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&rsquo;", "'",
	"&lsquo;", "'",
	"&rdquo;", `"`,
	"&ldquo;", `"`,
	"&mdash;", "-",
	"&ndash;", "-",
	"&hellip;", "...",
	"&copy;", "(c)",
)

// PlainTextFromHTML derives a readable plain-text fallback from newsletter
// HTML. It is lossy on purpose: block-level closers and <br> become newlines,
// common entities are decoded, every remaining tag is stripped and runs of
// blank lines are collapsed. The output never contains '<' or '>' characters
// from markup; literal entities decode after tags are gone so they cannot be
// mistaken for markup.
func PlainTextFromHTML(html string) string {
	text := stylePattern.ReplaceAllString(html, "")
	text = brPattern.ReplaceAllString(text, "\n")
	text = blockClosePattern.ReplaceAllString(text, "\n\n")
	text = tagPattern.ReplaceAllString(text, "")
	text = entityReplacer.Replace(text)
	text = strings.ReplaceAll(text, "<", "")
	text = strings.ReplaceAll(text, ">", "")

	// Trim trailing whitespace per line, then collapse blank runs
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	text = strings.Join(lines, "\n")
	text = excessNewlines.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}
