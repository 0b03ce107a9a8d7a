// Package config handles configuration loading for taskdeck.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from TASKDECK_CONFIG environment variable
//  2. ~/.taskdeck/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  secret: "${TASKDECK_AUTH_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	auth:
//	  token_ttl: "24h"
//	  revalidation_interval: "60s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Target selection:
//
//	target: "auto"  # auto, native, web, remote
//
// Database and stores:
//
//	database:
//	  path: "~/.taskdeck/taskdeck.db"
//	backup:
//	  path: "~/.taskdeck/backup.json"
//	  max_bytes: 0
//	session:
//	  path: "~/.taskdeck/session.json"
//
// Authentication:
//
//	auth:
//	  secret: "${TASKDECK_AUTH_SECRET}"
//	  token_ttl: "24h"
//	  revalidation_interval: "60s"
//
// Remote API (target: remote only):
//
//	remote:
//	  base_url: "https://api.example.com/v1"
//
// Read cache:
//
//	cache:
//	  ttl: "30s"
//	  max_entries: 256
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - Target value membership
//   - Database path presence for local targets
//   - Remote base URL presence for the remote target
//   - Duration format validity
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/home/user/.taskdeck/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
