package database

import (
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gluk-w/sshdeck/internal/models"
)

func groupFromNode(n Node) models.Group {
	return models.Group{
		ID:          n.ID,
		Name:        n.Name,
		ParentID:    n.ParentID,
		ProxyID:     n.ProxyID,
		Description: n.Description,
		CreatedAt:   n.CreatedAt,
		UpdatedAt:   n.UpdatedAt,
	}
}

func (s *Store) GetGroup(id string) (models.Group, error) {
	var n Node
	if err := s.db.Where("id = ? AND is_group = ?", id, true).First(&n).Error; err != nil {
		return models.Group{}, notFound(err)
	}
	return groupFromNode(n), nil
}

// ListGroups returns every group as a flat list.
func (s *Store) ListGroups() ([]models.Group, error) {
	var nodes []Node
	if err := s.db.Where("is_group = ?", true).Order("name, id").Find(&nodes).Error; err != nil {
		return nil, err
	}
	groups := make([]models.Group, 0, len(nodes))
	for _, n := range nodes {
		groups = append(groups, groupFromNode(n))
	}
	return groups, nil
}

func (s *Store) CreateGroup(g models.Group) (models.Group, error) {
	if strings.TrimSpace(g.Name) == "" {
		return models.Group{}, fmt.Errorf("%w: group name is required", ErrInvalid)
	}
	if err := s.requireGroup(s.db, g.ParentID); err != nil {
		return models.Group{}, err
	}
	n := Node{
		ID:          uuid.NewString(),
		IsGroup:     true,
		ParentID:    g.ParentID,
		ProxyID:     g.ProxyID,
		Name:        g.Name,
		Description: g.Description,
	}
	if err := s.db.Create(&n).Error; err != nil {
		return models.Group{}, fmt.Errorf("create group: %w", err)
	}
	return groupFromNode(n), nil
}

// UpdateGroup replaces the editable fields of the group with g.ID. Moving a
// group below itself or one of its descendants is rejected.
func (s *Store) UpdateGroup(g models.Group) (models.Group, error) {
	if strings.TrimSpace(g.Name) == "" {
		return models.Group{}, fmt.Errorf("%w: group name is required", ErrInvalid)
	}
	var n Node
	if err := s.db.Where("id = ? AND is_group = ?", g.ID, true).First(&n).Error; err != nil {
		return models.Group{}, notFound(err)
	}
	if g.ParentID != n.ParentID {
		if err := s.requireGroup(s.db, g.ParentID); err != nil {
			return models.Group{}, err
		}
		descendants, err := s.descendantGroups(s.db, g.ID)
		if err != nil {
			return models.Group{}, err
		}
		if g.ParentID == g.ID || descendants[g.ParentID] {
			return models.Group{}, fmt.Errorf("%w: group %q cannot be moved under itself", ErrInvalid, g.ID)
		}
	}

	n.ParentID = g.ParentID
	n.ProxyID = g.ProxyID
	n.Name = g.Name
	n.Description = g.Description
	if err := s.db.Save(&n).Error; err != nil {
		return models.Group{}, fmt.Errorf("update group: %w", err)
	}
	return groupFromNode(n), nil
}

// DeleteGroup removes a group. A group with children is refused with
// ErrHasChildren unless force is set, in which case every descendant group
// and server goes with it.
func (s *Store) DeleteGroup(id string, force bool) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.requireGroup(tx, id); err != nil {
			return ErrNotFound
		}

		var children int64
		if err := tx.Model(&Node{}).Where("parent_id = ?", id).Count(&children).Error; err != nil {
			return err
		}
		if children > 0 && !force {
			return fmt.Errorf("%w: %d children", ErrHasChildren, children)
		}

		groups, err := s.descendantGroups(tx, id)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(groups)+1)
		ids = append(ids, id)
		for g := range groups {
			ids = append(ids, g)
		}

		servers := tx.Where("is_group = ? AND parent_id IN ?", false, ids).Delete(&Node{})
		if servers.Error != nil {
			return servers.Error
		}
		if err := tx.Where("is_group = ? AND id IN ?", true, ids).Delete(&Node{}).Error; err != nil {
			return err
		}
		if force && children > 0 {
			log.Printf("[db] force-deleted group %s with %d subgroups and %d servers", id, len(groups), servers.RowsAffected)
		}
		return nil
	})
}

// descendantGroups returns the ids of every group below id.
func (s *Store) descendantGroups(tx *gorm.DB, id string) (map[string]bool, error) {
	var nodes []Node
	if err := tx.Select("id", "parent_id").Where("is_group = ?", true).Find(&nodes).Error; err != nil {
		return nil, err
	}
	children := make(map[string][]string)
	for _, n := range nodes {
		children[n.ParentID] = append(children[n.ParentID], n.ID)
	}

	seen := make(map[string]bool)
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range children[cur] {
			if c == id || seen[c] {
				continue
			}
			seen[c] = true
			queue = append(queue, c)
		}
	}
	return seen, nil
}

// GroupTree assembles groups into a hierarchy with their servers attached.
// Groups whose parent is missing are treated as roots.
func GroupTree(groups []models.Group, servers []models.Server) []*models.Group {
	byID := make(map[string]*models.Group, len(groups))
	for i := range groups {
		g := groups[i]
		g.Servers = nil
		g.Children = nil
		byID[g.ID] = &g
	}
	for _, srv := range servers {
		if g, ok := byID[srv.GroupID]; ok {
			g.Servers = append(g.Servers, srv)
		}
	}

	var roots []*models.Group
	for i := range groups {
		g := byID[groups[i].ID]
		parent, ok := byID[g.ParentID]
		if !ok || inCycle(byID, g.ID) {
			roots = append(roots, g)
			continue
		}
		parent.Children = append(parent.Children, g)
	}
	return roots
}

// inCycle reports whether the parent chain starting at id loops.
func inCycle(byID map[string]*models.Group, id string) bool {
	seen := map[string]bool{}
	for cur := id; cur != ""; {
		if seen[cur] {
			return true
		}
		seen[cur] = true
		g, ok := byID[cur]
		if !ok {
			return false
		}
		cur = g.ParentID
	}
	return false
}
