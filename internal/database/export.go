package database

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/gluk-w/sshdeck/internal/models"
)

const exportVersion = 1

// Inventory is the YAML document produced by ExportYAML. Secrets are never
// exported.
type Inventory struct {
	Version int              `yaml:"version"`
	Groups  []InventoryGroup  `yaml:"groups,omitempty"`
	Servers []InventoryServer `yaml:"servers,omitempty"`
	Proxies []InventoryProxy  `yaml:"proxies,omitempty"`
}

type InventoryGroup struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	ParentID    string `yaml:"parent_id,omitempty"`
	ProxyID     string `yaml:"proxy_id,omitempty"`
	Description string `yaml:"description,omitempty"`
}

type InventoryServer struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port,omitempty"`
	Username    string `yaml:"username"`
	GroupID     string `yaml:"group_id,omitempty"`
	ProxyID     string `yaml:"proxy_id,omitempty"`
	Description string `yaml:"description,omitempty"`
}

type InventoryProxy struct {
	ID          string           `yaml:"id"`
	Name        string           `yaml:"name"`
	Type        models.ProxyType `yaml:"type"`
	Host        string           `yaml:"host"`
	Port        int              `yaml:"port"`
	Username    string           `yaml:"username,omitempty"`
	Description string           `yaml:"description,omitempty"`
	Enabled     bool             `yaml:"enabled"`
}

// ImportResult counts the rows written by ImportYAML.
type ImportResult struct {
	Groups  int `json:"groups"`
	Servers int `json:"servers"`
	Proxies int `json:"proxies"`
}

// ExportYAML serializes the server tree and proxy table.
func (s *Store) ExportYAML() ([]byte, error) {
	var nodes []Node
	if err := s.db.Order("is_group DESC, name, id").Find(&nodes).Error; err != nil {
		return nil, err
	}
	var proxies []ProxyConfig
	if err := s.db.Order("name, id").Find(&proxies).Error; err != nil {
		return nil, err
	}

	inv := Inventory{Version: exportVersion}
	for _, n := range nodes {
		if n.IsGroup {
			inv.Groups = append(inv.Groups, InventoryGroup{
				ID: n.ID, Name: n.Name, ParentID: n.ParentID, ProxyID: n.ProxyID, Description: n.Description,
			})
			continue
		}
		inv.Servers = append(inv.Servers, InventoryServer{
			ID: n.ID, Name: n.Name, Host: n.Host, Port: n.Port, Username: n.Username,
			GroupID: n.ParentID, ProxyID: n.ProxyID, Description: n.Description,
		})
	}
	for _, p := range proxies {
		inv.Proxies = append(inv.Proxies, InventoryProxy{
			ID: p.ID, Name: p.Name, Type: models.ProxyType(p.Type), Host: p.Host, Port: p.Port,
			Username: p.Username, Description: p.Description, Enabled: p.Enabled,
		})
	}

	out, err := yaml.Marshal(&inv)
	if err != nil {
		return nil, fmt.Errorf("marshal inventory: %w", err)
	}
	return out, nil
}

// ImportYAML loads an inventory produced by ExportYAML. With replace set
// the existing tree and proxies are dropped first; otherwise rows are
// upserted by id and stored secrets of existing servers are kept. The
// import is all-or-nothing.
func (s *Store) ImportYAML(data []byte, replace bool) (ImportResult, error) {
	var inv Inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return ImportResult{}, fmt.Errorf("%w: parse inventory: %v", ErrInvalid, err)
	}
	if inv.Version != exportVersion {
		return ImportResult{}, fmt.Errorf("%w: unsupported inventory version %d", ErrInvalid, inv.Version)
	}

	var res ImportResult
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if replace {
			if err := tx.Where("1 = 1").Delete(&Node{}).Error; err != nil {
				return err
			}
			if err := tx.Where("1 = 1").Delete(&ProxyConfig{}).Error; err != nil {
				return err
			}
		}

		for _, p := range inv.Proxies {
			mp := models.Proxy{ID: p.ID, Name: p.Name, Type: p.Type, Host: p.Host, Port: p.Port}
			if p.ID == "" {
				return fmt.Errorf("%w: proxy %q has no id", ErrInvalid, p.Name)
			}
			if err := validateProxy(mp); err != nil {
				return err
			}
			var row ProxyConfig
			if err := tx.Where("id = ?", p.ID).First(&row).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			row.ID, row.Name, row.Type, row.Host, row.Port = p.ID, p.Name, string(p.Type), p.Host, p.Port
			row.Username, row.Description, row.Enabled = p.Username, p.Description, p.Enabled
			if err := tx.Save(&row).Error; err != nil {
				return fmt.Errorf("import proxy %s: %w", p.ID, err)
			}
			res.Proxies++
		}

		for _, g := range inv.Groups {
			if g.ID == "" || g.Name == "" {
				return fmt.Errorf("%w: group needs an id and a name", ErrInvalid)
			}
			var row Node
			if err := tx.Where("id = ?", g.ID).First(&row).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			} else if err == nil && !row.IsGroup {
				return fmt.Errorf("%w: id %q is a server", ErrInvalid, g.ID)
			}
			row.ID, row.IsGroup, row.ParentID, row.ProxyID = g.ID, true, g.ParentID, g.ProxyID
			row.Name, row.Description = g.Name, g.Description
			if err := tx.Save(&row).Error; err != nil {
				return fmt.Errorf("import group %s: %w", g.ID, err)
			}
			res.Groups++
		}
		if err := validateTree(tx); err != nil {
			return err
		}

		for _, srv := range inv.Servers {
			ms := models.Server{ID: srv.ID, Name: srv.Name, Host: srv.Host, Port: srv.Port, Username: srv.Username, GroupID: srv.GroupID}
			if srv.ID == "" {
				return fmt.Errorf("%w: server %q has no id", ErrInvalid, srv.Name)
			}
			if err := validateServer(ms); err != nil {
				return err
			}
			if err := s.requireGroup(tx, srv.GroupID); err != nil {
				return err
			}
			var row Node
			if err := tx.Where("id = ?", srv.ID).First(&row).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			} else if err == nil && row.IsGroup {
				return fmt.Errorf("%w: id %q is a group", ErrInvalid, srv.ID)
			}
			port := srv.Port
			if port == 0 {
				port = defaultSSHPort
			}
			row.ID, row.IsGroup, row.ParentID, row.ProxyID = srv.ID, false, srv.GroupID, srv.ProxyID
			row.Name, row.Host, row.Port, row.Username, row.Description = srv.Name, srv.Host, port, srv.Username, srv.Description
			if row.Status == "" {
				row.Status = string(models.StatusStopped)
			}
			if err := tx.Save(&row).Error; err != nil {
				return fmt.Errorf("import server %s: %w", srv.ID, err)
			}
			res.Servers++
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	return res, nil
}

// validateTree rejects dangling or cyclic group parents.
func validateTree(tx *gorm.DB) error {
	var nodes []Node
	if err := tx.Select("id", "parent_id").Where("is_group = ?", true).Find(&nodes).Error; err != nil {
		return err
	}
	byID := make(map[string]*models.Group, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = &models.Group{ID: n.ID, ParentID: n.ParentID}
	}
	for id, g := range byID {
		if g.ParentID != "" && byID[g.ParentID] == nil {
			return fmt.Errorf("%w: group %q has unknown parent %q", ErrInvalid, id, g.ParentID)
		}
		if inCycle(byID, id) {
			return fmt.Errorf("%w: group %q is part of a parent cycle", ErrInvalid, id)
		}
	}
	return nil
}
