package main

import (
	"net/http"

	"go.uber.org/zap"

	platformauth "github.com/zenGate-Global/palmyra-graph/platform/go/auth"
)

// buildAuthMiddleware selects the bearer-token verifier. Requests without a
// token pass through as anonymous; ACL checks downstream decide what an
// anonymous caller may see.
func buildAuthMiddleware(cfg config, logger *zap.Logger) func(http.Handler) http.Handler {
	var verify platformauth.VerifyFunc
	switch cfg.AuthProvider {
	case "dev":
		logger.Warn("using unsigned dev tokens; do not use in production")
		verify = platformauth.UnsignedTokenVerifier()
	default:
		logger.Fatal("unsupported auth provider", zap.String("provider", cfg.AuthProvider))
	}

	return platformauth.Bearer(verify, platformauth.DefaultCredentialExtractor)
}
