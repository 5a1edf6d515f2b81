// Package dedupe remembers recently reconciled uplink deduplication ids so
// that a redelivered notification is not reconciled twice within a window.
package dedupe
