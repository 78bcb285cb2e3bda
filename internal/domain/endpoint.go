package domain

import "strings"

// Endpoint is one RPC provider address pair.
type Endpoint struct {
	RPCURL string `json:"rpc_url"`
	WSURL  string `json:"ws_url"`
}

// Name returns a short label for logs and metrics.
func (e Endpoint) Name() string {
	u := e.WSURL
	if u == "" {
		u = e.RPCURL
	}
	if i := strings.Index(u, "://"); i >= 0 {
		u = u[i+3:]
	}
	if i := strings.IndexAny(u, "/?"); i >= 0 {
		u = u[:i]
	}
	return u
}

// DuplexURL converts a request/response address into its duplex form.
// http becomes ws and https becomes wss; host, port, path and query are kept.
// Addresses already using a duplex scheme are returned unchanged.
func DuplexURL(rpcURL string) string {
	switch {
	case strings.HasPrefix(rpcURL, "https://"):
		return "wss://" + strings.TrimPrefix(rpcURL, "https://")
	case strings.HasPrefix(rpcURL, "http://"):
		return "ws://" + strings.TrimPrefix(rpcURL, "http://")
	default:
		return rpcURL
	}
}

// EndpointsFromSettings pairs the configured URL lists positionally.
// A duplex URL missing from the list is derived from the matching RPC URL.
// Extra duplex URLs without an RPC partner reuse the first RPC URL.
func EndpointsFromSettings(s Settings) []Endpoint {
	n := len(s.SolanaWSURLs)
	if len(s.SolanaRPCURLs) > n {
		n = len(s.SolanaRPCURLs)
	}

	endpoints := make([]Endpoint, 0, n)
	for i := 0; i < n; i++ {
		var ep Endpoint
		if i < len(s.SolanaRPCURLs) {
			ep.RPCURL = s.SolanaRPCURLs[i]
		} else if len(s.SolanaRPCURLs) > 0 {
			ep.RPCURL = s.SolanaRPCURLs[0]
		}
		if i < len(s.SolanaWSURLs) {
			ep.WSURL = s.SolanaWSURLs[i]
		} else {
			ep.WSURL = DuplexURL(ep.RPCURL)
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints
}
