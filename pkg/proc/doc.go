/*
Package proc manages the metadata server process and its on-disk markers.

The Manager starts the server with a personality and the managed-mode flag,
stops it gracefully (SIGTERM, bounded wait) and escalates to SIGKILL when
asked. Process-table inspection goes through prometheus/procfs, which also
backs TransitionInProgress: the probe uses it to distinguish "server went
away" from "a start/stop transition is still under way".

Two small markers live beside the data: the advisory lock file (present
without a process means crash, not clean stop) and the personality marker
consumed by the external config generator.
*/
package proc
