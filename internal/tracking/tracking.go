// Package tracking rewrites outbound links in a rendered email: UTM
// attribution for links to the marketing site, then a click-redirect wrapper
// that carries the send-record id and the original destination.
package tracking

import (
	"bytes"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/unclebandit/outreach-driver/internal/model"
)

const clickPath = "/api/track/click"

// Ref identifies the send a rewritten link belongs to.
type Ref struct {
	LogID   int64
	Channel model.Channel
	Variant model.Variant
}

type Rewriter struct {
	TrackingDomain  string // e.g. https://t.example.com
	MarketingDomain string // e.g. example.com; subdomains match too
	UTMCampaign     string
}

// Rewrite parses body, rewrites every http(s) anchor and renders it back.
func (w *Rewriter) Rewrite(body string, ref Ref) (string, error) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "parse html")
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			for i, attr := range n.Attr {
				if attr.Namespace == "" && attr.Key == "href" {
					n.Attr[i].Val = w.Link(attr.Val, ref)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	var out bytes.Buffer
	if err := html.Render(&out, doc); err != nil {
		return "", errors.Wrap(err, "render html")
	}
	return out.String(), nil
}

// Link returns the tracked form of a single href. Non-web links (mailto:,
// tel:, anchors) and links already pointing at the tracker are left alone.
func (w *Rewriter) Link(href string, ref Ref) string {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return href
	}
	if w.isTracker(u) {
		return href
	}

	dest := u.String()
	if w.isMarketing(u) && u.Query().Get("utm_source") == "" {
		dest = w.withUTM(u, ref)
	}
	return w.clickURL(ref.LogID, dest)
}

func (w *Rewriter) withUTM(u *url.URL, ref Ref) string {
	utm := "utm_source=" + url.QueryEscape(string(ref.Channel)) +
		"&utm_medium=email" +
		"&utm_campaign=" + url.QueryEscape(w.UTMCampaign) +
		"&utm_content=" + url.QueryEscape("version_"+string(ref.Variant))

	c := *u
	if c.RawQuery == "" {
		c.RawQuery = utm
	} else {
		c.RawQuery += "&" + utm
	}
	return c.String()
}

func (w *Rewriter) clickURL(logID int64, dest string) string {
	base := strings.TrimRight(w.TrackingDomain, "/")
	return base + clickPath + "?log_id=" + strconv.FormatInt(logID, 10) + "&dest=" + url.QueryEscape(dest)
}

func (w *Rewriter) isMarketing(u *url.URL) bool {
	domain := strings.ToLower(strings.TrimPrefix(w.MarketingDomain, "."))
	if domain == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func (w *Rewriter) isTracker(u *url.URL) bool {
	t, err := url.Parse(w.TrackingDomain)
	if err != nil || t.Host == "" {
		return false
	}
	return strings.EqualFold(t.Host, u.Host) && u.Path == clickPath
}
