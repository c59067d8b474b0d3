package shield

import (
	"net/http"
	"strings"
)

// multipartOverhead is the allowance for form boundaries and text fields on
// top of the file itself.
const multipartOverhead = 1 << 20

// MaxBody returns middleware that caps request bodies. Multipart uploads get
// maxBytes plus a fixed allowance for the surrounding form fields; every
// other body is capped at maxBytes.
func MaxBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxBytes > 0 && r.Body != nil {
				limit := maxBytes
				if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
					limit += multipartOverhead
				}
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}
