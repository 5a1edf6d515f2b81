// Package config handles configuration loading for device-tracker.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file (chosen by the .toml
// extension), then overridden by the environment variables earlier tracker
// releases were configured with. Running without a file is supported; every
// value then comes from defaults and the environment.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	chirpstack:
//	  password: "${CHIRPSTACK_PASSWORD}"
//
// # Legacy Environment Variables
//
// These override the file when set and non-empty:
//
//	WAGGLE_NODE_VSN              node.vsn
//	MANIFEST_FILE                node.manifest
//	MQTT_SERVER_HOST             mqtt.host
//	MQTT_SERVER_PORT             mqtt.port
//	MQTT_SUBSCRIBE_TOPIC         mqtt.topic
//	CHIRPSTACK_ACCOUNT_EMAIL     chirpstack.email
//	CHIRPSTACK_ACCOUNT_PASSWORD  chirpstack.password
//	CHIRPSTACK_API_INTERFACE     chirpstack.api_interface
//	API_INTERFACE                registry.api_interface
//	NODE_TOKEN                   registry.node_token
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	chirpstack:
//	  retry_delay: "2s"
//	dedupe:
//	  ttl: "10m"
//
// # Validation
//
// Load checks that values are well formed. Each command then calls Require
// with the sections it needs, so that listing the manifest does not demand
// network server credentials.
package config
