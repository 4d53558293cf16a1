// File: internal/detector/detector.go
package detector

import (
	"context"
	"strings"

	"github.com/xkilldash9x/cfgate/internal/browser"
	"github.com/xkilldash9x/cfgate/internal/config"
)

// Indicator values reported for the structural checks. Content matches report the matched
// indicator string itself.
const (
	IndicatorTitle = "title"
	IndicatorURL   = "url"
)

// PageView is a point-in-time snapshot of a rendered page. The page keeps changing underneath,
// so a view is captured fresh for every check and never reused.
type PageView struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Markup string `json:"markup"`
	Text   string `json:"text"`
}

// Result classifies one PageView. Indicator is set exactly when Detected is true; a non-empty
// Error means the view could not be captured and Detected is false.
type Result struct {
	Detected  bool   `json:"detected"`
	Indicator string `json:"indicator,omitempty"`
	Error     string `json:"error,omitempty"`
}

// phrase keeps a configured string together with its lower-cased form.
type phrase struct {
	raw   string
	lower string
}

func compile(list []string) []phrase {
	out := make([]phrase, 0, len(list))
	for _, s := range list {
		if strings.TrimSpace(s) == "" {
			continue
		}
		out = append(out, phrase{raw: s, lower: strings.ToLower(s)})
	}
	return out
}

// Detector decides whether a page shows an anti-automation challenge. It holds no mutable state
// and one instance is shared by every caller.
type Detector struct {
	allowList       []phrase
	titlePhrases    []phrase
	indicators      []phrase
	challengeDomain string
}

// New builds a Detector from the configured phrase sets.
func New(cfg config.DetectorConfig) *Detector {
	return &Detector{
		allowList:       compile(cfg.AllowList),
		titlePhrases:    compile(cfg.TitlePhrases),
		indicators:      compile(cfg.Indicators),
		challengeDomain: strings.ToLower(strings.TrimSpace(cfg.ChallengeDomain)),
	}
}

// ChallengeDomain returns the host that serves challenge widgets.
func (d *Detector) ChallengeDomain() string { return d.challengeDomain }

// Check classifies view. Checks run cheapest first and the first match wins:
// allow-listed title, challenge title, challenge URL, then markup and text.
func (d *Detector) Check(view PageView) Result {
	title := strings.ToLower(view.Title)

	if firstMatch(title, d.allowList) != "" {
		return Result{}
	}
	if firstMatch(title, d.titlePhrases) != "" {
		return Result{Detected: true, Indicator: IndicatorTitle}
	}
	if d.OnChallengeURL(view.URL) {
		return Result{Detected: true, Indicator: IndicatorURL}
	}
	if ind := d.contentIndicator(view.Markup, view.Text); ind != "" {
		return Result{Detected: true, Indicator: ind}
	}
	return Result{}
}

// OnChallengeURL reports whether rawURL points at the challenge-hosting domain.
func (d *Detector) OnChallengeURL(rawURL string) bool {
	return d.challengeDomain != "" && strings.Contains(strings.ToLower(rawURL), d.challengeDomain)
}

// IndicatorIn returns the first challenge title phrase or indicator found in title or text.
func (d *Detector) IndicatorIn(title, text string) string {
	if m := firstMatch(strings.ToLower(title), d.titlePhrases); m != "" {
		return m
	}
	if m := firstMatch(strings.ToLower(title), d.indicators); m != "" {
		return m
	}
	return firstMatch(strings.ToLower(text), d.indicators)
}

func (d *Detector) contentIndicator(markup, text string) string {
	if m := firstMatch(strings.ToLower(markup), d.indicators); m != "" {
		return m
	}
	return firstMatch(strings.ToLower(text), d.indicators)
}

// firstMatch expects haystack to be lower-cased already.
func firstMatch(haystack string, phrases []phrase) string {
	if haystack == "" {
		return ""
	}
	for _, p := range phrases {
		if strings.Contains(haystack, p.lower) {
			return p.raw
		}
	}
	return ""
}

// Inspect captures a fresh view of the session's page and checks it. Capture failures become a
// negative Result carrying the error message; only a session that became unusable is returned as
// an error.
func (d *Detector) Inspect(ctx context.Context, sess browser.Session) (Result, PageView, error) {
	view, err := Capture(ctx, sess)
	if err != nil {
		if browser.IsFatal(err) {
			return Result{}, PageView{}, err
		}
		return Result{Error: err.Error()}, PageView{}, nil
	}
	return d.Check(view), view, nil
}
