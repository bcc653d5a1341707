// Package config handles loading and validating Instrumental configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with INSTRUMENTAL_* environment variables
//   - Validation of resolver policies, blacklist globs and service settings
//
// The instruments section is the read-only alias source. Aliases saved at
// run time live in the SQLite database named by database.path.
//
// Usage:
//
//	cfg, err := config.LoadOrDefault(config.DefaultPath())
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.Resolver.ReopenPolicy)
package config
