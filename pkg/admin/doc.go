/*
Package admin is the client for the metadata server's admin endpoint.

Two operations exist: Query, which returns the fixed-order status tuple
(role, connection state, metadata version, optional version source), and
Command, which issues one of the control commands (promote, quick-stop,
save, restart, reload). Authentication is a shared secret written to the
connection before the command; it never appears in an argument list.

The package also owns fault classification: all interpretation of vendor
and transport error text happens in Classify, against one documented
substring table with an explicit unknown fallback.
*/
package admin
