// File: internal/config/defaults.go
package config

// DefaultTitlePhrases are title fragments shown by interstitial challenge pages.
var DefaultTitlePhrases = []string{
	"just a moment",
	"attention required",
	"checking your browser",
	"please wait",
	"one more step",
}

// DefaultIndicators is the full set scanned in page markup and visible text.
var DefaultIndicators = []string{
	"just a moment",
	"checking your browser",
	"cf-browser-verification",
	"cf-challenge",
	"cf_chl_opt",
	"_cf_chl",
	"challenge-platform",
	"challenges.cloudflare.com",
	"cf-turnstile",
	"turnstile",
	"ray id:",
	"verify you are human",
	"enable javascript and cookies to continue",
}

// DefaultAllowList holds benign title phrases from ordinary authentication flows.
var DefaultAllowList = []string{
	"verify your identity",
	"sign in",
	"log in",
	"login",
	"two-factor",
	"2-step verification",
}

// DefaultContentMarkers are keywords the strict success predicate accepts as real content.
var DefaultContentMarkers = []string{
	"login",
	"log in",
	"sign in",
	"password",
	"username",
	"email",
	"account",
	"authenticate",
}

// DefaultFrameSelectors locate a checkbox-like control inside a challenge frame.
var DefaultFrameSelectors = []string{
	`input[type="checkbox"]`,
	`.ctp-checkbox-label`,
	`label.cb-lb`,
	`[role="checkbox"]`,
}

// DefaultDocumentSelectors are tried in order against the main document.
var DefaultDocumentSelectors = []string{
	`#challenge-stage input[type="checkbox"]`,
	`#challenge-form input[type="submit"]`,
	`.cf-turnstile`,
	`#cf-stage`,
	`input[type="checkbox"]`,
	`button[type="submit"]`,
}

// DefaultUserAgents is the pool a session user agent is drawn from.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36 Edg/130.0.0.0",
}
