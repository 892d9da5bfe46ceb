// Package config loads the chuted agent configuration.
//
// The configuration is a YAML file layered over built-in defaults and then
// over a few environment variables (CHUTED_ROUTER_ID, CHUTED_MODE,
// CHUTED_DATA_DIR, LOG_LEVEL). Documents are checked in two passes: the raw
// YAML is unified with a closed CUE schema, which catches misspelled keys
// and malformed values with their path, and the decoded struct is then
// checked with validator tags for cross-field rules.
//
// The same schema registry validates update request documents before they
// are decoded, see ValidateRequest.
//
// A minimal configuration:
//
//	router:
//	  id: gw-0042
//	paths:
//	  data: /var/lib/chuted
//	network:
//	  enabled: true
//	  dir: /etc/chuted/network
//	  unit: chuted-network.service
//	mqtt:
//	  enabled: true
//	  broker: tcp://controller:1883
package config
