// Package journal records the outcome of every reconciled uplink in a local
// SQLite database.
//
// Each entry names the device, the branch the tracker took, the registry
// actions it performed and the final state. The journal is append-only and
// is read back by the history command.
package journal
