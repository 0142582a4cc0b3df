package middleware

import (
	"github.com/gin-gonic/gin"
)

// SecurityOptions configures SecurityHeaders.
type SecurityOptions struct {
	// NoStore adds Cache-Control: no-store plus the legacy Pragma/Expires
	// pair. Run envelopes are operational data and must not be cached.
	NoStore bool
}

// SecurityHeaders adds conservative hardening headers for a JSON API:
// X-Content-Type-Options, X-Frame-Options and Referrer-Policy always, and the
// no-store cache headers when requested.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		if opt.NoStore {
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			h.Set("Expires", "0")
		}
		c.Next()
	}
}
