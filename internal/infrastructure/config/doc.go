// Package config handles loading and validating SSDS Ingest configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Broker and MQTT credentials should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - Credentials and queue names are never defaulted in code
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Queue.Name)
package config
