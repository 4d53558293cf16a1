// File: pkg/client/types.go
package client

// BypassOptions are the per-request options of Bypass and Screenshot. Zero values and nil
// pointers leave the server default in place.
type BypassOptions struct {
	TimeoutMs         int    `json:"timeout,omitempty"`
	Headless          *bool  `json:"headless,omitempty"`
	Screenshot        *bool  `json:"screenshot,omitempty"`
	FullPage          *bool  `json:"fullPage,omitempty"`
	UserAgent         string `json:"userAgent,omitempty"`
	Proxy             string `json:"proxy,omitempty"`
	Width             int    `json:"width,omitempty"`
	Height            int    `json:"height,omitempty"`
	WaitAfterBypassMs *int   `json:"waitAfterBypass,omitempty"`
	MaxAttempts       int    `json:"maxAttempts,omitempty"`
	PollIntervalMs    int    `json:"pollIntervalMs,omitempty"`
}

// Bool returns a pointer to b, for the optional fields of BypassOptions.
func Bool(b bool) *bool { return &b }

// Int returns a pointer to n.
func Int(n int) *int { return &n }

// Health is the /health payload.
type Health struct {
	Status         string `json:"status"`
	Uptime         int64  `json:"uptime"`
	Browser        string `json:"browser"`
	ActiveSessions int    `json:"activeSessions"`
}

// DetectResult is the /detect payload.
type DetectResult struct {
	URL                string `json:"url"`
	CloudflareDetected bool   `json:"cloudflareDetected"`
	Indicator          string `json:"indicator,omitempty"`
	PageTitle          string `json:"pageTitle"`
	FinalURL           string `json:"finalUrl"`
	Error              string `json:"error,omitempty"`
}

// Cookie is a browser cookie captured after the run.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// Attempt is one iteration of the server's attempt loop.
type Attempt struct {
	Index                int    `json:"index"`
	TimestampMs          int64  `json:"timestampMs"`
	Strategy             string `json:"strategy,omitempty"`
	InteractionAttempted bool   `json:"interactionAttempted"`
	PredicateSatisfied   bool   `json:"predicateSatisfied"`
}

// BypassResult is the /bypass and /screenshot payload. Screenshot is base64-encoded PNG data;
// see DecodeScreenshot.
type BypassResult struct {
	RunID               string           `json:"runId"`
	URL                 string           `json:"url"`
	Screenshot          string           `json:"screenshot,omitempty"`
	ScreenshotFormat    string           `json:"screenshotFormat,omitempty"`
	Cookies             []Cookie         `json:"cookies"`
	FinalURL            string           `json:"finalUrl"`
	Title               string           `json:"title"`
	ContentLength       int              `json:"contentLength"`
	CloudflareDetected  bool             `json:"cloudflareDetected"`
	CloudflareIndicator string           `json:"cloudflareIndicator,omitempty"`
	BypassSuccessful    bool             `json:"bypassSuccessful"`
	State               string           `json:"state"`
	Attempts            []Attempt        `json:"attempts"`
	Timing              map[string]int64 `json:"timing"`
	TimingOrder         []Checkpoint     `json:"timingOrder"`
	DetectionError      string           `json:"detectionError,omitempty"`
}

// Checkpoint is one timing mark, in the order the service reached it.
type Checkpoint struct {
	Name      string `json:"name"`
	ElapsedMs int64  `json:"elapsedMs"`
}

// Stats is the /stats payload.
type Stats struct {
	TotalRequests        int64   `json:"totalRequests"`
	SuccessfulBypasses   int64   `json:"successfulBypasses"`
	FailedBypasses       int64   `json:"failedBypasses"`
	CloudflareDetections int64   `json:"cloudflareDetections"`
	SuccessRate          float64 `json:"successRate"`
	Uptime               int64   `json:"uptime"`
	UptimeFormatted      string  `json:"uptimeFormatted"`
}
