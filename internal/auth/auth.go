// Package auth implements the bearer-token check from
// original_source/src-c/gateway/auth_gateway.c's auth_gateway_check: an
// empty expected token disables auth entirely, otherwise the
// Authorization header must carry exactly "Bearer <token>".
package auth

import (
	"strings"

	"github.com/openclaw/gateway/internal/httpcodec"
)

// CheckBearer reports whether req is authorized against expectedToken.
// An empty expectedToken means auth is not configured and every request
// passes, matching the original's "No auth configured = allow all".
func CheckBearer(req *httpcodec.Request, expectedToken string) bool {
	if expectedToken == "" {
		return true
	}

	val, ok := req.Header("Authorization")
	if !ok {
		return false
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(val, prefix) {
		return false
	}
	return val[len(prefix):] == expectedToken
}
