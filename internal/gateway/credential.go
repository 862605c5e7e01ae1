package gateway

import "net/http"

// extractCredential pulls the handshake credential from, in precedence
// order: the X-Socket-Auth-Token header (the channel a browser client
// library populates from its auth connect option — an upgrade request
// carries no body), the Authorization bearer header, and finally a query
// parameter. Query-parameter credentials leak into access logs and proxy
// caches, so they are off unless allowQuery is set.
func extractCredential(r *http.Request, allowQuery bool) string {
	if tok := r.Header.Get("X-Socket-Auth-Token"); tok != "" {
		return tok
	}
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
		return auth[7:]
	}
	if allowQuery {
		if tok := r.URL.Query().Get("token"); tok != "" {
			return tok
		}
	}
	return ""
}
