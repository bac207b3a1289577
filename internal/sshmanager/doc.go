// Package sshmanager owns the live SSH sessions of the console.
//
// Each session is keyed by an identity: the server id for the primary tab,
// or any caller-chosen string for additional tabs on the same server. A
// session bundles the SSH client, the PTY shell running on it and a plain
// SessionRecord describing it.
//
// # Lifecycle
//
// [Manager.Connect] dials the server (directly or through a proxy tunnel),
// authenticates, opens the PTY shell and registers the session. Shell output
// is relayed as [TerminalDataEvent]s on a dedicated goroutine, so events for
// one identity are always delivered in order. When the shell stream ends the
// session is purged and a disconnected [StatusEvent] is published.
//
// A failed connect leaves a not-connected record carrying the error, unless a
// live session already owns the identity.
//
// [Manager.Disconnect] ends the shell gracefully, closes the client and
// publishes a disconnected event. Disconnecting an unknown identity is a
// no-op.
//
// # Commands
//
// [Manager.ExecuteCommand] runs a one-shot command on a fresh exec channel
// of the identity's client, separate from the interactive shell.
package sshmanager
