// Package report delivers cycle outcomes to the outside world: human readable
// status lines through the process logger, and optionally JSON events on a
// RabbitMQ queue.
package report
