/*
Package types defines the shared vocabulary of the failover core: replica
roles and connection states as reported by the metadata server, probe
results, promotion modes, vote score tiers, and the status codes lifecycle
actions return to the cluster resource manager.

The central type is Reconciliation, the full output of one reconciler pass.
Controllers (promote, demote, stop) consume the Reconciliation produced
immediately before them; no field of it is ever cached between lifecycle
invocations.
*/
package types
