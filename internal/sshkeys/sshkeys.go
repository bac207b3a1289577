package sshkeys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

// KeyPair is a freshly generated key pair.
type KeyPair struct {
	PublicKey     string `json:"public_key"`
	PrivateKeyPEM string `json:"private_key"`
	Fingerprint   string `json:"fingerprint"`
}

// GenerateKeyPair generates an ED25519 key pair and returns the
// OpenSSH-format public key and the PEM-encoded private key.
func GenerateKeyPair() (publicKey, privateKeyPEM []byte, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate ed25519 key: %w", err)
	}

	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal private key: %w", err)
	}
	privateKeyPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: privBytes,
	})

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, nil, fmt.Errorf("create ssh public key: %w", err)
	}
	return ssh.MarshalAuthorizedKey(sshPub), privateKeyPEM, nil
}

// NewKeyPair is GenerateKeyPair packaged for API responses.
func NewKeyPair() (*KeyPair, error) {
	pub, priv, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	fp, err := Fingerprint(pub)
	if err != nil {
		return nil, err
	}
	return &KeyPair{
		PublicKey:     strings.TrimSpace(string(pub)),
		PrivateKeyPEM: string(priv),
		Fingerprint:   fp,
	}, nil
}

// ParsePrivateKey parses a PEM-encoded private key into an ssh.Signer.
func ParsePrivateKey(privateKeyPEM []byte) (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}

// PublicKeyFor derives the authorized_keys line for a PEM private key.
func PublicKeyFor(privateKeyPEM []byte) (string, error) {
	signer, err := ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(signer.PublicKey()))), nil
}

// Fingerprint returns the SHA256 fingerprint of an authorized_keys line.
func Fingerprint(publicKey []byte) (string, error) {
	if len(publicKey) == 0 {
		return "", fmt.Errorf("empty public key")
	}
	parsed, _, _, _, err := ssh.ParseAuthorizedKey(publicKey)
	if err != nil {
		return "", fmt.Errorf("parse public key: %w", err)
	}
	return ssh.FingerprintSHA256(parsed), nil
}
