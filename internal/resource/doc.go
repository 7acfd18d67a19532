// Package resource bounds the memory, encode concurrency and write throughput of the
// video store.
//
// Decodes reserve the pixel memory of the tiles they materialize with WaitMemory,
// stores and retiles take a background slot, and tile writes pass through AcquireIO.
package resource
