// Package sshkeys generates and inspects the key pairs used for public-key
// login to managed servers.
//
// Keys are ED25519. Private keys are PKCS#8 PEM so they can be pasted into a
// server record as-is; public keys are in authorized_keys format.
package sshkeys
