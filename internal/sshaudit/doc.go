// Package sshaudit records SSH activity to the ssh_audit_logs table and the
// standard logger.
//
// # Event Types
//
//   - [EventConnectionEstablished]: an identity's shell opened.
//   - [EventConnectionTerminated]: an identity was disconnected (includes duration).
//   - [EventConnectionFailed]: a connect attempt failed (includes the reason).
//   - [EventCommandExecution]: a one-shot command ran on an identity.
//
// Rows are keyed by server id and connection identity so all tabs of one
// server can be queried together. Entries older than the retention period
// ([DefaultRetentionDays] unless configured) are removed by [Auditor.PurgeOlderThan].
package sshaudit
