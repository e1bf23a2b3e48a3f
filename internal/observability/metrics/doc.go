// Package metrics exports transfer cycle outcomes as Prometheus metrics and
// serves them over HTTP.
package metrics
