// Package sshtest provides an in-process SSH server and mock SOCKS5 and HTTP
// CONNECT proxies for tests.
package sshtest
