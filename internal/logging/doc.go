// Package logging provides structured logging utilities for edulab.
//
// This package centralizes logging patterns to ensure consistent, structured logging
// throughout the proxy and the client using the standard library's slog package.
//
// # Usage Patterns
//
// Create a logger with standard attributes:
//
//	logger := logging.WithOperation(slog.Default(), "generate")
//	logger.Info("generation finished",
//	    logging.Feature("summarize"),
//	    logging.Status("success"))
//
// Sanitize sensitive data before logging:
//
//	logger.Info("user signed in",
//	    logging.UserHash(email))
//
// # Security Considerations
//
//   - User emails are hashed to prevent PII leakage while allowing correlation
//   - Access tokens are never logged directly, only their length via SanitizeToken
package logging
