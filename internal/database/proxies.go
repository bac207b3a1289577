package database

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/gluk-w/sshdeck/internal/models"
)

func (s *Store) proxyFromRow(r ProxyConfig) (models.Proxy, error) {
	pw, err := s.open(r.Password)
	if err != nil {
		return models.Proxy{}, fmt.Errorf("open password of proxy %s: %w", r.ID, err)
	}
	return models.Proxy{
		ID:          r.ID,
		Name:        r.Name,
		Type:        models.ProxyType(r.Type),
		Host:        r.Host,
		Port:        r.Port,
		Username:    r.Username,
		Password:    pw,
		Description: r.Description,
		Enabled:     r.Enabled,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}, nil
}

func (s *Store) proxiesFromRows(rows []ProxyConfig) ([]models.Proxy, error) {
	out := make([]models.Proxy, 0, len(rows))
	for _, r := range rows {
		p, err := s.proxyFromRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func validateProxy(p models.Proxy) error {
	switch {
	case strings.TrimSpace(p.Name) == "":
		return fmt.Errorf("%w: proxy name is required", ErrInvalid)
	case !p.Type.IsValid():
		return fmt.Errorf("%w: unknown proxy type %q", ErrInvalid, p.Type)
	case strings.TrimSpace(p.Host) == "":
		return fmt.Errorf("%w: proxy host is required", ErrInvalid)
	case p.Port <= 0 || p.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalid, p.Port)
	}
	return nil
}

func (s *Store) GetProxy(id string) (models.Proxy, error) {
	var r ProxyConfig
	if err := s.db.Where("id = ?", id).First(&r).Error; err != nil {
		return models.Proxy{}, notFound(err)
	}
	return s.proxyFromRow(r)
}

func (s *Store) ListProxies() ([]models.Proxy, error) {
	var rows []ProxyConfig
	if err := s.db.Order("name, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return s.proxiesFromRows(rows)
}

func (s *Store) ListEnabledProxies() ([]models.Proxy, error) {
	var rows []ProxyConfig
	if err := s.db.Where("enabled = ?", true).Order("name, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return s.proxiesFromRows(rows)
}

// SearchProxies matches q case-insensitively against name, host, type and
// description.
func (s *Store) SearchProxies(q string) ([]models.Proxy, error) {
	like := "%" + strings.ToLower(q) + "%"
	var rows []ProxyConfig
	err := s.db.Where("LOWER(name) LIKE ? OR LOWER(host) LIKE ? OR LOWER(type) LIKE ? OR LOWER(description) LIKE ?",
		like, like, like, like).Order("name, id").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return s.proxiesFromRows(rows)
}

func (s *Store) CreateProxy(p models.Proxy) (models.Proxy, error) {
	if err := validateProxy(p); err != nil {
		return models.Proxy{}, err
	}
	pw, err := s.seal(p.Password)
	if err != nil {
		return models.Proxy{}, fmt.Errorf("seal proxy password: %w", err)
	}
	r := ProxyConfig{
		ID:          uuid.NewString(),
		Name:        p.Name,
		Type:        string(p.Type),
		Host:        p.Host,
		Port:        p.Port,
		Username:    p.Username,
		Password:    pw,
		Description: p.Description,
		Enabled:     p.Enabled,
	}
	if err := s.db.Create(&r).Error; err != nil {
		return models.Proxy{}, fmt.Errorf("create proxy: %w", err)
	}
	return s.GetProxy(r.ID)
}

func (s *Store) UpdateProxy(p models.Proxy) (models.Proxy, error) {
	if err := validateProxy(p); err != nil {
		return models.Proxy{}, err
	}
	var r ProxyConfig
	if err := s.db.Where("id = ?", p.ID).First(&r).Error; err != nil {
		return models.Proxy{}, notFound(err)
	}
	pw, err := s.seal(p.Password)
	if err != nil {
		return models.Proxy{}, fmt.Errorf("seal proxy password: %w", err)
	}
	r.Name = p.Name
	r.Type = string(p.Type)
	r.Host = p.Host
	r.Port = p.Port
	r.Username = p.Username
	r.Password = pw
	r.Description = p.Description
	r.Enabled = p.Enabled
	if err := s.db.Save(&r).Error; err != nil {
		return models.Proxy{}, fmt.Errorf("update proxy: %w", err)
	}
	return s.GetProxy(r.ID)
}

// ToggleProxy flips the enabled flag and returns the updated proxy.
func (s *Store) ToggleProxy(id string) (models.Proxy, error) {
	p, err := s.GetProxy(id)
	if err != nil {
		return models.Proxy{}, err
	}
	if err := s.db.Model(&ProxyConfig{}).Where("id = ?", id).Update("enabled", !p.Enabled).Error; err != nil {
		return models.Proxy{}, fmt.Errorf("toggle proxy: %w", err)
	}
	return s.GetProxy(id)
}

// DeleteProxy removes a proxy. Nodes still naming it are left alone; the
// dangling reference no longer resolves.
func (s *Store) DeleteProxy(id string) error {
	res := s.db.Where("id = ?", id).Delete(&ProxyConfig{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
