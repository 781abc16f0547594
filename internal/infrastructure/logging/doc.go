// Package logging provides structured logging for the gateway.
//
// It wraps log/slog with JSON or text output, level filtering and default
// service/version attributes on every entry.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("poll").Info("poll served", "subscription_id", id)
//
// Never log secrets, bearer tokens or Redis passwords.
package logging
