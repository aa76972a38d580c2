// Package config loads, normalizes, and validates nudge configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// MQTT_PASSWORD. The Config type centralizes every knob the daemon, CLI, and
// agent need.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
