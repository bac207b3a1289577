// Package sshterminal runs the interactive PTY shell attached to each
// connection.
//
// A Terminal requests an xterm-256color pseudo-terminal, starts the login
// shell and exposes it as an io.ReadWriter. Everything read from it is also
// kept in a bounded scrollback so a late-attaching viewer can catch up.
//
// Ending a terminal is graceful: stdin is closed (EOF) before the channel, so
// the remote shell sees a normal hangup rather than a signal.
package sshterminal
