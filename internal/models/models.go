package models

import (
	"net"
	"strconv"
	"time"
)

// ProxyType is the negotiation protocol spoken by an intermediate proxy.
type ProxyType string

const (
	ProxySOCKS5 ProxyType = "socks5"
	ProxySOCKS4 ProxyType = "socks4"
	ProxyHTTP   ProxyType = "http"
)

// IsValid reports whether t is a type that can be stored. socks4 is accepted
// for storage but cannot be negotiated.
func (t ProxyType) IsValid() bool {
	switch t {
	case ProxySOCKS5, ProxySOCKS4, ProxyHTTP:
		return true
	}
	return false
}

// ServerStatus is the persisted, user-facing status of a server.
type ServerStatus string

const (
	StatusRunning     ServerStatus = "running"
	StatusStopped     ServerStatus = "stopped"
	StatusMaintenance ServerStatus = "maintenance"
	StatusError       ServerStatus = "error"
)

// Server describes one SSH endpoint. Password and PrivateKey are plaintext
// here; the store seals them at rest.
type Server struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Host          string       `json:"host"`
	Port          int          `json:"port"`
	Username      string       `json:"username"`
	Password      string       `json:"password,omitempty"`
	PrivateKey    string       `json:"private_key,omitempty"`
	GroupID       string       `json:"group_id,omitempty"`
	ProxyID       string       `json:"proxy_id,omitempty"`
	Description   string       `json:"description,omitempty"`
	Status        ServerStatus `json:"status"`
	LastConnected *time.Time   `json:"last_connected,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Addr returns host:port, defaulting the port to 22.
func (s Server) Addr() string {
	port := s.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(s.Host, strconv.Itoa(port))
}

// Group is a folder in the server tree. Servers and Children are only
// populated when the hierarchy is built.
type Group struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ParentID    string    `json:"parent_id,omitempty"`
	ProxyID     string    `json:"proxy_id,omitempty"`
	Description string    `json:"description,omitempty"`
	Servers     []Server  `json:"servers,omitempty"`
	Children    []*Group  `json:"children,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Proxy describes an intermediate proxy used to reach servers.
type Proxy struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        ProxyType `json:"type"`
	Host        string    `json:"host"`
	Port        int       `json:"port"`
	Username    string    `json:"username,omitempty"`
	Password    string    `json:"password,omitempty"`
	Description string    `json:"description,omitempty"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Addr returns the proxy's host:port.
func (p Proxy) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// HasCredentials reports whether the proxy requires authentication.
func (p Proxy) HasCredentials() bool {
	return p.Username != ""
}
