// Package proxytunnel opens a raw byte stream to an SSH target through an
// intermediate SOCKS5 or HTTP CONNECT proxy.
//
// The returned net.Conn carries nothing but target traffic; any proxy
// handshake bytes have been consumed. It is handed straight to the SSH client
// in place of a direct TCP dial.
package proxytunnel
