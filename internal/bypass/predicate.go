// File: internal/bypass/predicate.go
package bypass

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/cfgate/internal/detector"
)

// SuccessPredicate decides whether a page has moved past its challenge. It is a pure function
// of a PageView.
type SuccessPredicate struct {
	detector         *detector.Detector
	minContentLength int
	strict           bool
	markers          []string
}

// NewSuccessPredicate binds the heuristics of cfg to the shared detector.
func NewSuccessPredicate(det *detector.Detector, cfg RunConfig) SuccessPredicate {
	markers := make([]string, 0, len(cfg.ContentMarkers))
	for _, m := range cfg.ContentMarkers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			markers = append(markers, m)
		}
	}
	return SuccessPredicate{
		detector:         det,
		minContentLength: cfg.MinContentLength,
		strict:           cfg.StrictPredicate,
		markers:          markers,
	}
}

// Satisfied holds when the page is off the challenge domain, shows no challenge indicator in its
// title or visible text, carries more than the minimum markup and, in strict mode, contains a
// content marker.
func (p SuccessPredicate) Satisfied(view detector.PageView) bool {
	if p.detector.OnChallengeURL(view.URL) {
		return false
	}
	if p.detector.IndicatorIn(view.Title, view.Text) != "" {
		return false
	}
	if len(view.Markup) <= p.minContentLength {
		return false
	}
	if p.strict && !hasContentMarker(view.Markup, p.markers) {
		return false
	}
	return true
}

// hasContentMarker looks for a form, a credential input, or a marker keyword in rendered text.
func hasContentMarker(markup string, markers []string) bool {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return false
	}

	found := false
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if found {
			return
		}
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript", "template":
				return
			case "form":
				found = true
				return
			case "input":
				if t := strings.ToLower(attr(n, "type")); t == "password" || t == "email" {
					found = true
					return
				}
			}
		case html.TextNode:
			text := strings.ToLower(n.Data)
			for _, m := range markers {
				if strings.Contains(text, m) {
					found = true
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return found
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
