/*
Package config loads and validates the metakeeper node configuration from a
single YAML file.

Validation distinguishes configuration-faults (missing leader host, missing
admin secret, missing data dir) from everything else: these are fatal and
surfaced before any lifecycle action runs, so a misconfigured node fails its
very first validate/monitor instead of half-acting. Path helpers derive the
advisory lock file, the personality marker and the promotion-prevented
marker from the data directory so every package agrees on their location.
*/
package config
