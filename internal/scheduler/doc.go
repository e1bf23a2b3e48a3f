// Package scheduler drives the transfer loop. Each cycle draws an amount,
// fetches a fresh anchor, builds and signs the transfer, submits it and waits
// for confirmation, then reports the outcome and flips the direction between
// wallet A and wallet B. Failures never stop the loop; they are reported and
// the next cycle runs after the usual interval.
package scheduler
