// Package prometheus publishes engine metrics through client_golang.
//
// [Collector] reads [guardian.Engine.MetricsSnapshot] on every scrape and
// emits one const metric per counter and one const histogram per latency
// series. Register it on any prometheus.Registerer, or mount [Handler] for
// a private registry.
//
// The collector never mutates engine state.
package prometheus
