package newsletter

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Template is the per-send output of the content transformer: a Liquid
// template with tracking already injected. It is produced once per send
// operation and rendered per recipient by the dispatcher, so the HTML is
// scanned and rewritten exactly once no matter how many recipients there are.
type Template struct {
	NewsletterID uuid.UUID
	Subject      string
	HTML         string
}

// Transformer rewrites newsletter HTML for tracking and personalization
type Transformer struct {
	trackingBase string
}

// NewTransformer creates a transformer. trackingBase is the public base URL
// of the tracking service, without a trailing slash.
func NewTransformer(trackingBase string) *Transformer {
	return &Transformer{trackingBase: strings.TrimRight(trackingBase, "/")}
}

var hrefPattern = regexp.MustCompile(`href="(https?://[^"]+)"`)

// Transform prepares the tracked template for one newsletter: outbound links
// are swapped for redirect URLs, the open pixel and unsubscribe footer are
// appended. Links already persisted for this newsletter (a resend) keep their
// tokens; only links for newly discovered URLs are returned, and they must be
// persisted before any message is dispatched.
func (t *Transformer) Transform(n *Newsletter, existing []*TrackingLink) (*Template, []*TrackingLink) {
	html, links := t.rewriteLinks(n.ID, n.HTMLBody, existing)
	html = t.injectPixel(n.ID, html)
	html = t.appendUnsubscribeFooter(html)

	return &Template{
		NewsletterID: n.ID,
		Subject:      n.Subject,
		HTML:         html,
	}, links
}

// rewriteLinks replaces each distinct absolute http(s) href with a redirect
// URL carrying a freshly minted token. Relative URLs stay as they are; the
// redirect endpoint could not reconstruct them without a known origin.
func (t *Transformer) rewriteLinks(newsletterID uuid.UUID, html string, existing []*TrackingLink) (string, []*TrackingLink) {
	matches := hrefPattern.FindAllStringSubmatch(html, -1)

	var links []*TrackingLink
	seen := make(map[string]string) // original URL -> token
	for _, link := range existing {
		seen[link.OriginalURL] = link.Token
	}

	for _, m := range matches {
		originalURL := m[1]
		if _, ok := seen[originalURL]; ok {
			continue
		}
		// Never re-track our own redirect/unsubscribe URLs
		if strings.HasPrefix(originalURL, t.trackingBase) {
			continue
		}
		token := newToken()
		seen[originalURL] = token
		links = append(links, &TrackingLink{
			NewsletterID: newsletterID,
			OriginalURL:  originalURL,
			Token:        token,
		})
	}

	for originalURL, token := range seen {
		tracked := fmt.Sprintf(`href="%s/t/c?token=%s"`, t.trackingBase, token)
		html = strings.ReplaceAll(html, `href="`+originalURL+`"`, tracked)
	}
	return html, links
}

// injectPixel appends the 1x1 open-tracking image. The subscriber id is a
// template variable bound per recipient at render time.
func (t *Transformer) injectPixel(newsletterID uuid.UUID, html string) string {
	pixel := fmt.Sprintf(
		`<img src="%s/t/o?nid=%s&sid={{ subscriber_id }}" width="1" height="1" style="display:none" alt="" />`,
		t.trackingBase, newsletterID)
	if strings.Contains(html, "</body>") {
		return strings.Replace(html, "</body>", pixel+"</body>", 1)
	}
	return html + pixel
}

// appendUnsubscribeFooter appends the fixed unsubscribe block. The recipient
// address is a template variable bound per recipient at render time.
func (t *Transformer) appendUnsubscribeFooter(html string) string {
	footer := fmt.Sprintf(`<div style="margin-top:24px;padding-top:12px;border-top:1px solid #ddd;font-size:12px;color:#888;">
You are receiving this because you subscribed to our newsletter.
<a href="%s">Unsubscribe</a>
</div>`, t.UnsubscribeURL(`{{ email | urlencode }}`))

	if strings.Contains(html, "</body>") {
		return strings.Replace(html, "</body>", footer+"</body>", 1)
	}
	return html + footer
}

// UnsubscribeURL builds the unsubscribe link for an address (or a template
// placeholder standing in for one).
func (t *Transformer) UnsubscribeURL(email string) string {
	return fmt.Sprintf("%s/t/u?email=%s", t.trackingBase, email)
}

// newToken mints an opaque, unguessable tracking token
func newToken() string {
	b := make([]byte, 18)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
