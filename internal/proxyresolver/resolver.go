// Package proxyresolver finds the proxy that applies to a server by walking
// its group chain.
package proxyresolver

import (
	"fmt"

	"github.com/gluk-w/sshdeck/internal/models"
)

// Source provides the group tree and proxy table. Both are read on every
// Resolve so reassignments take effect on the next connect.
type Source interface {
	ListGroups() ([]models.Group, error)
	ListProxies() ([]models.Proxy, error)
}

type Resolver struct {
	src Source
}

func New(src Source) *Resolver {
	return &Resolver{src: src}
}

// Resolve returns the nearest enabled proxy for server, or nil when none
// applies. The server's own ProxyID wins. Otherwise the group chain is
// walked from server.GroupID upward and the first group whose ProxyID names
// an enabled proxy is used. A cyclic parent chain resolves to nil.
func (r *Resolver) Resolve(server models.Server) (*models.Proxy, error) {
	proxies, err := r.src.ListProxies()
	if err != nil {
		return nil, fmt.Errorf("list proxies: %w", err)
	}
	enabled := make(map[string]models.Proxy, len(proxies))
	for _, p := range proxies {
		if p.Enabled {
			enabled[p.ID] = p
		}
	}

	if p, ok := enabled[server.ProxyID]; ok && server.ProxyID != "" {
		return &p, nil
	}
	if server.GroupID == "" {
		return nil, nil
	}

	groups, err := r.src.ListGroups()
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return walk(indexGroups(groups), enabled, server.GroupID), nil
}

// parentLink is one entry of the id-indexed group arena.
type parentLink struct {
	parentID string
	proxyID  string
}

func indexGroups(groups []models.Group) map[string]parentLink {
	idx := make(map[string]parentLink, len(groups))
	for _, g := range groups {
		idx[g.ID] = parentLink{parentID: g.ParentID, proxyID: g.ProxyID}
	}
	return idx
}

func walk(groups map[string]parentLink, enabled map[string]models.Proxy, start string) *models.Proxy {
	visited := make(map[string]struct{})
	for id := start; id != ""; {
		if _, seen := visited[id]; seen {
			return nil
		}
		visited[id] = struct{}{}

		g, ok := groups[id]
		if !ok {
			return nil
		}
		if g.proxyID != "" {
			if p, ok := enabled[g.proxyID]; ok {
				return &p
			}
		}
		id = g.parentID
	}
	return nil
}
