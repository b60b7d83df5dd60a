// Package config loads, normalizes, and validates Lectern configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks for API
// keys such as OPENROUTER_API_KEY and GROQ_API_KEY. The Config type
// centralizes every knob the daemon and CLI need, so data directories,
// worker pool sizing, and collaborator endpoints are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
