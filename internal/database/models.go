package database

import "time"

// Node is one entry of the server tree. Groups and servers share the table;
// IsGroup tells them apart and ParentID links a node to its group.
type Node struct {
	ID            string     `gorm:"primaryKey;size:64"`
	IsGroup       bool       `gorm:"not null;index"`
	ParentID      string     `gorm:"index;default:''"`
	ProxyID       string     `gorm:"default:''"`
	Name          string     `gorm:"not null"`
	Description   string     `gorm:"default:''"`
	Host          string     `gorm:"default:''"`
	Port          int        `gorm:"not null;default:22"`
	Username      string     `gorm:"default:''"`
	Password      string     // Fernet-encrypted
	PrivateKey    string     `gorm:"type:text"` // Fernet-encrypted
	Status        string     `gorm:"not null;default:stopped"`
	LastConnected *time.Time
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

type ProxyConfig struct {
	ID          string    `gorm:"primaryKey;size:64"`
	Name        string    `gorm:"not null"`
	Type        string    `gorm:"not null"`
	Host        string    `gorm:"not null"`
	Port        int       `gorm:"not null"`
	Username    string    `gorm:"default:''"`
	Password    string    // Fernet-encrypted
	Description string    `gorm:"default:''"`
	Enabled     bool      `gorm:"not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// SSHAuditLog is one audit trail row written by sshaudit.
type SSHAuditLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ServerID  string    `gorm:"index;size:64" json:"server_id"`
	Identity  string    `gorm:"index" json:"identity"`
	EventType string    `gorm:"index;not null" json:"event_type"`
	Username  string    `json:"username"`
	SourceIP  string    `json:"source_ip"`
	Details   string    `gorm:"type:text" json:"details"`
	Duration  int64     `json:"duration_ms"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
