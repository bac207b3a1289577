package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gluk-w/sshdeck/internal/models"
)

const defaultSSHPort = 22

func (s *Store) serverFromNode(n Node) (models.Server, error) {
	pw, err := s.open(n.Password)
	if err != nil {
		return models.Server{}, fmt.Errorf("open password of %s: %w", n.ID, err)
	}
	key, err := s.open(n.PrivateKey)
	if err != nil {
		return models.Server{}, fmt.Errorf("open private key of %s: %w", n.ID, err)
	}
	port := n.Port
	if port == 0 {
		port = defaultSSHPort
	}
	status := models.ServerStatus(n.Status)
	if status == "" {
		status = models.StatusStopped
	}
	return models.Server{
		ID:            n.ID,
		Name:          n.Name,
		Host:          n.Host,
		Port:          port,
		Username:      n.Username,
		Password:      pw,
		PrivateKey:    key,
		GroupID:       n.ParentID,
		ProxyID:       n.ProxyID,
		Description:   n.Description,
		Status:        status,
		LastConnected: n.LastConnected,
		CreatedAt:     n.CreatedAt,
		UpdatedAt:     n.UpdatedAt,
	}, nil
}

func (s *Store) serversFromNodes(nodes []Node) ([]models.Server, error) {
	out := make([]models.Server, 0, len(nodes))
	for _, n := range nodes {
		srv, err := s.serverFromNode(n)
		if err != nil {
			return nil, err
		}
		out = append(out, srv)
	}
	return out, nil
}

func validateServer(srv models.Server) error {
	switch {
	case strings.TrimSpace(srv.Name) == "":
		return fmt.Errorf("%w: server name is required", ErrInvalid)
	case strings.TrimSpace(srv.Host) == "":
		return fmt.Errorf("%w: server host is required", ErrInvalid)
	case strings.TrimSpace(srv.Username) == "":
		return fmt.Errorf("%w: server username is required", ErrInvalid)
	case srv.Port < 0 || srv.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalid, srv.Port)
	}
	switch srv.Status {
	case "", models.StatusRunning, models.StatusStopped, models.StatusMaintenance, models.StatusError:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalid, srv.Status)
	}
	return nil
}

func (s *Store) GetServer(id string) (models.Server, error) {
	var n Node
	if err := s.db.Where("id = ? AND is_group = ?", id, false).First(&n).Error; err != nil {
		return models.Server{}, notFound(err)
	}
	return s.serverFromNode(n)
}

func (s *Store) ListServers() ([]models.Server, error) {
	var nodes []Node
	if err := s.db.Where("is_group = ?", false).Order("name, id").Find(&nodes).Error; err != nil {
		return nil, err
	}
	return s.serversFromNodes(nodes)
}

func (s *Store) ListServersByGroup(groupID string) ([]models.Server, error) {
	var nodes []Node
	if err := s.db.Where("is_group = ? AND parent_id = ?", false, groupID).Order("name, id").Find(&nodes).Error; err != nil {
		return nil, err
	}
	return s.serversFromNodes(nodes)
}

// SearchServers matches q case-insensitively against name and host.
func (s *Store) SearchServers(q string) ([]models.Server, error) {
	like := "%" + strings.ToLower(q) + "%"
	var nodes []Node
	err := s.db.Where("is_group = ? AND (LOWER(name) LIKE ? OR LOWER(host) LIKE ?)", false, like, like).
		Order("name, id").Find(&nodes).Error
	if err != nil {
		return nil, err
	}
	return s.serversFromNodes(nodes)
}

// CreateServer stores srv under a fresh id and returns the stored server.
func (s *Store) CreateServer(srv models.Server) (models.Server, error) {
	if err := validateServer(srv); err != nil {
		return models.Server{}, err
	}
	if err := s.requireGroup(s.db, srv.GroupID); err != nil {
		return models.Server{}, err
	}
	if srv.Port == 0 {
		srv.Port = defaultSSHPort
	}
	if srv.Status == "" {
		srv.Status = models.StatusStopped
	}

	n := Node{
		ID:            uuid.NewString(),
		ParentID:      srv.GroupID,
		ProxyID:       srv.ProxyID,
		Name:          srv.Name,
		Description:   srv.Description,
		Host:          srv.Host,
		Port:          srv.Port,
		Username:      srv.Username,
		Status:        string(srv.Status),
		LastConnected: srv.LastConnected,
	}
	if err := s.sealNode(&n, srv); err != nil {
		return models.Server{}, err
	}
	if err := s.db.Create(&n).Error; err != nil {
		return models.Server{}, fmt.Errorf("create server: %w", err)
	}
	return s.GetServer(n.ID)
}

// UpdateServer replaces the editable fields of the server with srv.ID.
func (s *Store) UpdateServer(srv models.Server) (models.Server, error) {
	if err := validateServer(srv); err != nil {
		return models.Server{}, err
	}
	var n Node
	if err := s.db.Where("id = ? AND is_group = ?", srv.ID, false).First(&n).Error; err != nil {
		return models.Server{}, notFound(err)
	}
	if err := s.requireGroup(s.db, srv.GroupID); err != nil {
		return models.Server{}, err
	}
	if srv.Port == 0 {
		srv.Port = defaultSSHPort
	}
	if srv.Status == "" {
		srv.Status = models.ServerStatus(n.Status)
	}

	n.ParentID = srv.GroupID
	n.ProxyID = srv.ProxyID
	n.Name = srv.Name
	n.Description = srv.Description
	n.Host = srv.Host
	n.Port = srv.Port
	n.Username = srv.Username
	n.Status = string(srv.Status)
	if srv.LastConnected != nil {
		n.LastConnected = srv.LastConnected
	}
	if err := s.sealNode(&n, srv); err != nil {
		return models.Server{}, err
	}
	if err := s.db.Save(&n).Error; err != nil {
		return models.Server{}, fmt.Errorf("update server: %w", err)
	}
	return s.GetServer(n.ID)
}

// UpdateServerStatus sets the status of a server. lastConnected is only
// written when non-nil.
func (s *Store) UpdateServerStatus(id string, status models.ServerStatus, lastConnected *time.Time) (models.Server, error) {
	updates := map[string]interface{}{"status": string(status)}
	if lastConnected != nil {
		updates["last_connected"] = *lastConnected
	}
	res := s.db.Model(&Node{}).Where("id = ? AND is_group = ?", id, false).Updates(updates)
	if res.Error != nil {
		return models.Server{}, res.Error
	}
	if res.RowsAffected == 0 {
		return models.Server{}, ErrNotFound
	}
	return s.GetServer(id)
}

func (s *Store) DeleteServer(id string) error {
	res := s.db.Where("id = ? AND is_group = ?", id, false).Delete(&Node{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) sealNode(n *Node, srv models.Server) error {
	var err error
	if n.Password, err = s.seal(srv.Password); err != nil {
		return fmt.Errorf("seal password: %w", err)
	}
	if n.PrivateKey, err = s.seal(srv.PrivateKey); err != nil {
		return fmt.Errorf("seal private key: %w", err)
	}
	return nil
}

// requireGroup checks that id names an existing group. The empty id means
// the root and always passes.
func (s *Store) requireGroup(tx *gorm.DB, id string) error {
	if id == "" {
		return nil
	}
	var count int64
	if err := tx.Model(&Node{}).Where("id = ? AND is_group = ?", id, true).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: group %q does not exist", ErrInvalid, id)
	}
	return nil
}
