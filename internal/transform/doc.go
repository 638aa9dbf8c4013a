// Package transform maps one decoded source record to at most one output
// record. Transforms are pure: no I/O and no shared state, so a record
// redelivered after a restart always yields the same Result.
package transform
