// File: internal/browser/scripts.go
package browser

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// jsString renders s as a JavaScript string literal.
func jsString(s string) (string, error) {
	lit, err := json.MarshalToString(s)
	if err != nil {
		return "", fmt.Errorf("encoding script argument: %w", err)
	}
	return lit, nil
}

func visibleScript(selector string) (string, error) {
	sel, err := jsString(selector)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el) return false;
	const r = el.getBoundingClientRect();
	const st = window.getComputedStyle(el);
	return r.width > 0 && r.height > 0 && st.visibility !== 'hidden' && st.display !== 'none';
})()`, sel), nil
}

func clickScript(selector string) (string, error) {
	sel, err := jsString(selector)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el) return false;
	el.click();
	return true;
})()`, sel), nil
}

// iframeRectScript locates the first <iframe> whose src contains needle.
func iframeRectScript(needle string) (string, error) {
	n, err := jsString(needle)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`(() => {
	for (const f of document.querySelectorAll('iframe')) {
		if ((f.src || '').includes(%s)) {
			const r = f.getBoundingClientRect();
			return {found: true, x: r.left, y: r.top, width: r.width, height: r.height};
		}
	}
	return {found: false};
})()`, n), nil
}
