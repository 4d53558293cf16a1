// File: internal/detector/capture.go
package detector

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/cfgate/internal/browser"
)

const captureScript = `(() => ({
	title: document.title || '',
	url: location.href,
	markup: document.documentElement ? document.documentElement.outerHTML : '',
	text: document.body ? document.body.innerText : ''
}))()`

// Capture reads the current title, URL, markup and visible text of the session's page in a single
// round trip.
func Capture(ctx context.Context, sess browser.Session) (PageView, error) {
	var view PageView
	if err := sess.Evaluate(ctx, captureScript, &view); err != nil {
		return PageView{}, fmt.Errorf("capturing page view: %w", err)
	}
	return view, nil
}
