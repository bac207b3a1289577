package proxyresolver

import (
	"errors"
	"testing"

	"github.com/gluk-w/sshdeck/internal/models"
)

type fakeSource struct {
	groups  []models.Group
	proxies []models.Proxy
	err     error
	calls   int
}

func (f *fakeSource) ListGroups() ([]models.Group, error) {
	f.calls++
	return f.groups, f.err
}

func (f *fakeSource) ListProxies() ([]models.Proxy, error) {
	return f.proxies, f.err
}

func proxy(id string, enabled bool) models.Proxy {
	return models.Proxy{ID: id, Name: id, Type: models.ProxySOCKS5, Host: "127.0.0.1", Port: 1080, Enabled: enabled}
}

func TestResolve(t *testing.T) {
	src := &fakeSource{
		groups: []models.Group{
			{ID: "g1", ParentID: "g2"},
			{ID: "g2", ParentID: "root", ProxyID: "P"},
			{ID: "root"},
			{ID: "g3", ParentID: "g4", ProxyID: "off"},
			{ID: "g4", ProxyID: "P"},
			{ID: "g5", ProxyID: "missing"},
			{ID: "c1", ParentID: "c2"},
			{ID: "c2", ParentID: "c1"},
		},
		proxies: []models.Proxy{proxy("P", true), proxy("Q", true), proxy("off", false)},
	}
	r := New(src)

	tests := []struct {
		name   string
		server models.Server
		want   string
	}{
		{"inherited from grandparent", models.Server{GroupID: "g1"}, "P"},
		{"own proxy wins", models.Server{GroupID: "g1", ProxyID: "Q"}, "Q"},
		{"own proxy disabled falls back to chain", models.Server{GroupID: "g1", ProxyID: "off"}, "P"},
		{"disabled group proxy skipped", models.Server{GroupID: "g3"}, "P"},
		{"dangling group proxy", models.Server{GroupID: "g5"}, ""},
		{"no proxy anywhere", models.Server{GroupID: "root"}, ""},
		{"no group", models.Server{}, ""},
		{"unknown group", models.Server{GroupID: "nope"}, ""},
		{"cycle", models.Server{GroupID: "c1"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(tt.server)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			switch {
			case tt.want == "" && got != nil:
				t.Errorf("expected no proxy, got %q", got.ID)
			case tt.want != "" && (got == nil || got.ID != tt.want):
				t.Errorf("expected %q, got %+v", tt.want, got)
			}
		})
	}
}

func TestResolve_NotCached(t *testing.T) {
	src := &fakeSource{
		groups:  []models.Group{{ID: "g1", ProxyID: "P"}},
		proxies: []models.Proxy{proxy("P", true), proxy("Q", true)},
	}
	r := New(src)
	srv := models.Server{GroupID: "g1"}

	if got, _ := r.Resolve(srv); got == nil || got.ID != "P" {
		t.Fatalf("expected P, got %+v", got)
	}
	src.groups[0].ProxyID = "Q"
	if got, _ := r.Resolve(srv); got == nil || got.ID != "Q" {
		t.Fatalf("reassignment not picked up, got %+v", got)
	}
	if src.calls != 2 {
		t.Errorf("expected the tree to be read on every call, got %d reads", src.calls)
	}
}

func TestResolve_SourceError(t *testing.T) {
	boom := errors.New("db closed")
	r := New(&fakeSource{err: boom})
	if _, err := r.Resolve(models.Server{GroupID: "g1"}); !errors.Is(err, boom) {
		t.Errorf("expected wrapped source error, got %v", err)
	}
}
