/*
Package cluster is the core's view of the external resource manager.

The Cluster interface exposes exactly what the failover core consumes: one
named integer attribute (the cluster-wide metadata-freshness marker, default
0, forever lifetime), this node's numeric vote score, the recorded leader
identity, a pending-transition check and best-effort error-state clearing.
The manager's quorum and election algorithm stays behind this boundary.

Two backends exist. ExecCluster shells out to the resource manager's tools
and is the production path. BoltCluster keeps the same state in a local
bbolt file for standalone and development runs, where tests and single-node
setups need attribute persistence without a cluster manager.

The Attributes accessor wraps the shared attribute with the write gate: the
attribute is only written when no cluster transition is believed in
progress, so an in-flight election is never perturbed.
*/
package cluster
