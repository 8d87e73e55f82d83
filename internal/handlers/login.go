package handlers

import (
	"fmt"
	"net/http"

	"github.com/sdko-org/traffic-guard/internal/ratelimit"
)

// HandleLogin is the rate limited sensitive view. Credentials are checked
// upstream; this only reports who the limiter decided the caller was.
func HandleLogin(w http.ResponseWriter, r *http.Request) {
	id := ratelimit.IdentityFromContext(r.Context())
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if id.Authenticated {
		fmt.Fprintf(w, "Hello, %s.", id.Subject)
		return
	}
	fmt.Fprint(w, "Hello, anonymous visitor.")
}
