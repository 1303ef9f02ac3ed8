/*
Package snapshot rotates on-disk metadata snapshot generations.

When a shadow with real metadata stops, its current snapshot is shifted
into a fixed chain of numbered generations; the oldest generation becomes a
timestamped archive and archives past the retention window are pruned.
This is deliberately destructive to the ready-to-load snapshot: a shadow
that has been offline must not be able to re-seed the cluster as leader
without an operator explicitly restoring metadata.
*/
package snapshot
