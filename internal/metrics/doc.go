// Package metrics provides lock-free counters and latency histograms for the
// engine.
//
// Counters are stored in cache-line-padded uint64 slots and incremented
// atomically. Histograms use 8 fixed buckets (≤5ms … +Inf). Both are
// allocation-free on the write path. Exporters under metrics/export read
// Snapshot values; this package performs no I/O.
package metrics
