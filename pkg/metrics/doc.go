/*
Package metrics defines the Prometheus collectors for the failover core.

Lifecycle invocations are short-lived processes, so there is nothing to
scrape directly; instead each invocation can flush its registry into a
node-exporter textfile collector directory. Counter values therefore count
per-invocation events, and gauges carry the last observed state.
*/
package metrics
