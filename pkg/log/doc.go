/*
Package log provides structured logging for metakeeper using zerolog.

A single global logger is initialized once per lifecycle invocation via
Init. Child loggers carry component, action and invocation_id fields so the
short-lived invocations of one node can be correlated in aggregated logs.
Output goes to stderr by default: stdout belongs to the resource manager
(capability documents, nothing else).
*/
package log
