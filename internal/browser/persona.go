// File: internal/browser/persona.go
package browser

import (
	"math/rand/v2"
	"strings"
)

// PickUserAgent returns a random entry of pool, or an empty string for an empty pool so that the
// browser keeps its own user agent.
func PickUserAgent(pool []string) string {
	if len(pool) == 0 {
		return ""
	}
	return pool[rand.IntN(len(pool))]
}

// platformFor derives navigator.platform from a user agent string so the override stays coherent.
func platformFor(userAgent string) string {
	switch {
	case strings.Contains(userAgent, "Windows"):
		return "Win32"
	case strings.Contains(userAgent, "Macintosh"):
		return "MacIntel"
	case strings.Contains(userAgent, "Linux"):
		return "Linux x86_64"
	default:
		return ""
	}
}
