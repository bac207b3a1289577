// Package console is the service the API talks to. It loads servers from the
// store, resolves their proxy, drives the SSH session manager and keeps the
// persisted server status in step with the live sessions.
//
// A server may have several identities open at once (one per terminal tab).
// Its status becomes "running" when any identity connects and "stopped"
// only after the last one goes away.
package console
