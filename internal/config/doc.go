// Package config loads the agent configuration from the process environment,
// optionally seeded from a .env file. Missing wallet secrets and unparsable
// values are reported as fatal configuration errors before the loop starts.
package config
