/*
Package probe queries the local metadata server and turns transport faults
into classified states.

The probe tolerates flakiness without hiding real failures: a transient
fault (timeout, connection reset) with a managed process present is retried
exactly once after a fixed delay; an ambiguous fault during an expected
start/stop transition is resolved against the process table; a fault that
persists on the node the cluster records as leader becomes a busy-master
report rather than an error, so heavy I/O never looks like a dead leader.
Only two outcomes escape as errors: the server process being entirely
absent (ErrNoProcess) and collaborator failures.
*/
package probe
