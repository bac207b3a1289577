package console

import (
	"time"

	"github.com/gluk-w/sshdeck/internal/models"
)

// ServerStatusEvent is published whenever the stored status of a server
// changes. Server never carries credentials.
type ServerStatusEvent struct {
	Server    models.Server `json:"server"`
	Timestamp time.Time     `json:"timestamp"`
}

// Redact returns srv without its password and private key.
func Redact(srv models.Server) models.Server {
	srv.Password = ""
	srv.PrivateKey = ""
	return srv
}
