package ratelimit

import (
	"net/http"
	"strings"
)

// unlimited is returned for endpoints that are never limited.
var unlimited = &EndpointConfig{Path: "/health", Method: http.MethodGet}

// MatchEndpoint matches a request path and method to an endpoint configuration.
// Exact paths win over prefixes; among prefixes (paths ending in "/") the
// longest wins. Returns nil if nothing matches.
func MatchEndpoint(path string, method string, configs []EndpointConfig) *EndpointConfig {
	if path == unlimited.Path && method == unlimited.Method {
		return unlimited
	}

	var best *EndpointConfig
	for i := range configs {
		config := &configs[i]
		if config.Method != method {
			continue
		}
		if config.Path == path {
			return config
		}
		if strings.HasSuffix(config.Path, "/") && strings.HasPrefix(path, config.Path) {
			if best == nil || len(config.Path) > len(best.Path) {
				best = config
			}
		}
	}
	return best
}
