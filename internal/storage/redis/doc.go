// Package redis keeps a single-instance lease in Redis so that two agents
// configured with the same wallet pair never transfer concurrently.
package redis
