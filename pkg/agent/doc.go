/*
Package agent is the failover reconciliation core.

Every lifecycle action first runs the reconciler: one probe of the local
metadata server combined with the cluster-recorded metadata version yields
a status code, a vote score for the cluster's election weighting, and a
promotion policy. The requested action then dispatches on that pass —
promote executes the pass's promotion mode (reload in place, stop/start as
master, or a refusal that blocks further automatic attempts), demote
quick-stops a leader, stop rotates a shadow's snapshot generations before
releasing the lock.

The safety rules live here: a replica whose local metadata version is 0 is
never promotion-eligible; the promotion mode is never cached across calls;
a non-synced standby always carries the minimum vote weight; and the shared
attribute is only written while no cluster transition is in flight.

Invocations are single-threaded and idempotent; the sole asynchronous piece
is the detached post-promotion error-clear task, which is best-effort and
safe to race with the next reconciliation.
*/
package agent
