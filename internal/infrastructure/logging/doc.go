// Package logging provides structured logging for Instrumental.
//
// It wraps log/slog with the service and version attributes and maps the
// logging section of the configuration onto a handler:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "text"     # text, json
//	  output: "stderr"   # stderr, stdout
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	reg.SetLogger(logger.Component("registry"))
//	logger.Info("instrument opened", "module", ps.Module())
package logging
