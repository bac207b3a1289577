package database

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gluk-w/sshdeck/internal/crypto"
	"github.com/gluk-w/sshdeck/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustServer(t *testing.T, s *Store, srv models.Server) models.Server {
	t.Helper()
	out, err := s.CreateServer(srv)
	if err != nil {
		t.Fatalf("create server %q: %v", srv.Name, err)
	}
	return out
}

func TestOpen_SeedsDefaultGroups(t *testing.T) {
	s := newTestStore(t)
	groups, err := s.ListGroups()
	if err != nil {
		t.Fatalf("list groups: %v", err)
	}
	if len(groups) != len(defaultGroups) {
		t.Fatalf("expected %d seeded groups, got %d", len(defaultGroups), len(groups))
	}
	servers, _ := s.ListServers()
	if len(servers) != 0 {
		t.Errorf("no demo servers should be seeded, got %d", len(servers))
	}

	web, err := s.GetGroup("web-servers")
	if err != nil || web.ParentID != "production" {
		t.Errorf("unexpected web-servers group %+v, %v", web, err)
	}
}

func TestOpen_SeedOnlyWhenEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.DeleteGroup("test", false); err != nil {
		t.Fatalf("delete group: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if _, err := s.GetGroup("test"); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted seed group came back: %v", err)
	}
}

func TestServerCRUD(t *testing.T) {
	s := newTestStore(t)

	srv := mustServer(t, s, models.Server{Name: "web-01", Host: "10.0.0.1", Username: "root", Password: "pw", GroupID: "web-servers"})
	if srv.ID == "" || srv.Port != 22 || srv.Status != models.StatusStopped {
		t.Errorf("defaults not applied: %+v", srv)
	}

	srv.Port = 2222
	srv.Description = "frontend"
	updated, err := s.UpdateServer(srv)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Port != 2222 || updated.Description != "frontend" || updated.Password != "pw" {
		t.Errorf("unexpected update result %+v", updated)
	}

	byGroup, _ := s.ListServersByGroup("web-servers")
	if len(byGroup) != 1 {
		t.Errorf("expected 1 server in group, got %d", len(byGroup))
	}

	if err := s.DeleteServer(srv.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetServer(srv.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteServer(srv.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}

func TestCreateServer_Validation(t *testing.T) {
	s := newTestStore(t)
	tests := []struct {
		name string
		srv  models.Server
	}{
		{"no name", models.Server{Host: "h", Username: "u"}},
		{"no host", models.Server{Name: "n", Username: "u"}},
		{"no username", models.Server{Name: "n", Host: "h"}},
		{"bad port", models.Server{Name: "n", Host: "h", Username: "u", Port: 70000}},
		{"bad status", models.Server{Name: "n", Host: "h", Username: "u", Status: "sleeping"}},
		{"unknown group", models.Server{Name: "n", Host: "h", Username: "u", GroupID: "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.CreateServer(tt.srv); !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestUpdateServerStatus(t *testing.T) {
	s := newTestStore(t)
	srv := mustServer(t, s, models.Server{Name: "db", Host: "10.0.0.2", Username: "root"})

	now := time.Now().UTC().Truncate(time.Second)
	got, err := s.UpdateServerStatus(srv.ID, models.StatusRunning, &now)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if got.Status != models.StatusRunning || got.LastConnected == nil || !got.LastConnected.Equal(now) {
		t.Errorf("unexpected server after status update: %+v", got)
	}

	got, err = s.UpdateServerStatus(srv.ID, models.StatusStopped, nil)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if got.Status != models.StatusStopped || got.LastConnected == nil {
		t.Errorf("lastConnected must survive a nil update: %+v", got)
	}

	if _, err := s.UpdateServerStatus("missing", models.StatusError, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSearchServers(t *testing.T) {
	s := newTestStore(t)
	mustServer(t, s, models.Server{Name: "Web-01", Host: "10.0.0.1", Username: "root"})
	mustServer(t, s, models.Server{Name: "db-01", Host: "db.internal", Username: "root"})

	got, err := s.SearchServers("WEB")
	if err != nil || len(got) != 1 || got[0].Name != "Web-01" {
		t.Errorf("search by name: %+v, %v", got, err)
	}
	got, _ = s.SearchServers("internal")
	if len(got) != 1 || got[0].Name != "db-01" {
		t.Errorf("search by host: %+v", got)
	}
}

func TestCredentialsAreSealed(t *testing.T) {
	s := newTestStore(t)
	sealer, err := crypto.LoadOrCreate(s)
	if err != nil {
		t.Fatalf("load sealer: %v", err)
	}
	s.SetSealer(sealer)

	srv := mustServer(t, s, models.Server{Name: "n", Host: "h", Username: "u", Password: "hunter2", PrivateKey: "-----BEGIN KEY-----"})
	p, err := s.CreateProxy(models.Proxy{Name: "corp", Type: models.ProxyHTTP, Host: "proxy", Port: 3128, Username: "bob", Password: "pw", Enabled: true})
	if err != nil {
		t.Fatalf("create proxy: %v", err)
	}

	var n Node
	s.DB().Where("id = ?", srv.ID).First(&n)
	if n.Password == "hunter2" || n.Password == "" || strings.Contains(n.PrivateKey, "BEGIN") {
		t.Errorf("secrets stored in the clear: %+v", n)
	}
	var row ProxyConfig
	s.DB().Where("id = ?", p.ID).First(&row)
	if row.Password == "pw" {
		t.Error("proxy password stored in the clear")
	}

	got, _ := s.GetServer(srv.ID)
	if got.Password != "hunter2" || got.PrivateKey != "-----BEGIN KEY-----" {
		t.Errorf("secrets not opened on read: %+v", got)
	}
	gp, _ := s.GetProxy(p.ID)
	if gp.Password != "pw" {
		t.Errorf("proxy password not opened on read: %q", gp.Password)
	}
}

func TestGroups(t *testing.T) {
	s := newTestStore(t)

	g, err := s.CreateGroup(models.Group{Name: "edge", ParentID: "production", ProxyID: "p1"})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if _, err := s.CreateGroup(models.Group{Name: "x", ParentID: "nope"}); !errors.Is(err, ErrInvalid) {
		t.Errorf("unknown parent: expected ErrInvalid, got %v", err)
	}

	g.Name = "edge nodes"
	g.ProxyID = ""
	g, err = s.UpdateGroup(g)
	if err != nil || g.Name != "edge nodes" || g.ProxyID != "" {
		t.Fatalf("update group: %+v, %v", g, err)
	}

	prod, _ := s.GetGroup("production")
	prod.ParentID = g.ID
	if _, err := s.UpdateGroup(prod); !errors.Is(err, ErrInvalid) {
		t.Errorf("moving a group under its descendant must fail, got %v", err)
	}
	prod.ParentID = "production"
	if _, err := s.UpdateGroup(prod); !errors.Is(err, ErrInvalid) {
		t.Errorf("moving a group under itself must fail, got %v", err)
	}
}

func TestDeleteGroup(t *testing.T) {
	s := newTestStore(t)
	srv := mustServer(t, s, models.Server{Name: "web", Host: "h", Username: "u", GroupID: "web-servers"})

	if err := s.DeleteGroup("production", false); !errors.Is(err, ErrHasChildren) {
		t.Fatalf("expected ErrHasChildren, got %v", err)
	}
	if err := s.DeleteGroup("production", true); err != nil {
		t.Fatalf("force delete: %v", err)
	}
	for _, id := range []string{"production", "web-servers", "db-servers"} {
		if _, err := s.GetGroup(id); !errors.Is(err, ErrNotFound) {
			t.Errorf("group %s survived force delete", id)
		}
	}
	if _, err := s.GetServer(srv.ID); !errors.Is(err, ErrNotFound) {
		t.Error("server survived force delete of its ancestor")
	}
	if _, err := s.GetGroup("dev"); err != nil {
		t.Errorf("unrelated group deleted: %v", err)
	}

	if err := s.DeleteGroup("dev", false); err != nil {
		t.Errorf("empty group: %v", err)
	}
	if err := s.DeleteGroup("dev", false); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGroupTree(t *testing.T) {
	groups := []models.Group{
		{ID: "root"},
		{ID: "child", ParentID: "root"},
		{ID: "orphan", ParentID: "gone"},
		{ID: "a", ParentID: "b"},
		{ID: "b", ParentID: "a"},
	}
	servers := []models.Server{{ID: "s1", GroupID: "child"}, {ID: "s2"}}

	roots := GroupTree(groups, servers)
	ids := map[string]*models.Group{}
	for _, r := range roots {
		ids[r.ID] = r
	}
	if len(roots) != 4 || ids["root"] == nil || ids["orphan"] == nil || ids["a"] == nil || ids["b"] == nil {
		t.Fatalf("unexpected roots %+v", roots)
	}
	root := ids["root"]
	if len(root.Children) != 1 || root.Children[0].ID != "child" {
		t.Fatalf("unexpected children %+v", root.Children)
	}
	if len(root.Children[0].Servers) != 1 || root.Children[0].Servers[0].ID != "s1" {
		t.Errorf("server not attached: %+v", root.Children[0].Servers)
	}
	if len(ids["a"].Children) != 0 {
		t.Error("cyclic groups must not be linked")
	}
}

func TestProxyCRUD(t *testing.T) {
	s := newTestStore(t)

	p, err := s.CreateProxy(models.Proxy{Name: "socks", Type: models.ProxySOCKS5, Host: "10.0.0.9", Port: 1080})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Enabled {
		t.Error("disabled proxy stored as enabled")
	}
	if _, err := s.CreateProxy(models.Proxy{Name: "x", Type: "ftp", Host: "h", Port: 1}); !errors.Is(err, ErrInvalid) {
		t.Errorf("bad type: expected ErrInvalid, got %v", err)
	}
	if _, err := s.CreateProxy(models.Proxy{Name: "x", Type: models.ProxyHTTP, Host: "h"}); !errors.Is(err, ErrInvalid) {
		t.Errorf("missing port: expected ErrInvalid, got %v", err)
	}

	p, err = s.ToggleProxy(p.ID)
	if err != nil || !p.Enabled {
		t.Fatalf("toggle: %+v, %v", p, err)
	}
	enabled, _ := s.ListEnabledProxies()
	if len(enabled) != 1 {
		t.Errorf("expected 1 enabled proxy, got %d", len(enabled))
	}

	p.Description = "office exit"
	if p, err = s.UpdateProxy(p); err != nil || p.Description != "office exit" {
		t.Fatalf("update: %+v, %v", p, err)
	}
	found, _ := s.SearchProxies("OFFICE")
	if len(found) != 1 {
		t.Errorf("search: expected 1, got %d", len(found))
	}

	if err := s.DeleteProxy(p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetProxy(p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSettings(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetSetting("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.SetSetting("k", "v1"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSetting("k", "v2"); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.GetSetting("k"); v != "v2" {
		t.Errorf("expected v2, got %q", v)
	}
}
