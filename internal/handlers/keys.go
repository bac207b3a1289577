package handlers

import (
	"log"
	"net/http"

	"github.com/gluk-w/sshdeck/internal/sshkeys"
)

// GenerateKey creates an ED25519 key pair for a new server. The private key
// is returned once and only stored when the client saves it on a server.
func (h *Handler) GenerateKey(w http.ResponseWriter, r *http.Request) {
	pub, priv, err := sshkeys.GenerateKeyPair()
	if err != nil {
		log.Printf("[api] key generation failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to generate key pair")
		return
	}
	fingerprint, err := sshkeys.Fingerprint(pub)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fingerprint key")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"public_key":  string(pub),
		"private_key": string(priv),
		"fingerprint": fingerprint,
	})
}
