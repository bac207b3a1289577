package sshaudit

import (
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gluk-w/sshdeck/internal/database"
)

func newTestAuditor(t *testing.T) *Auditor {
	t.Helper()
	store, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewAuditor(store.DB(), 0)
}

func TestNewAuditor_DefaultRetention(t *testing.T) {
	a := newTestAuditor(t)
	if a.RetentionDays() != DefaultRetentionDays {
		t.Errorf("expected %d retention days, got %d", DefaultRetentionDays, a.RetentionDays())
	}
}

func TestLogAndQuery(t *testing.T) {
	a := newTestAuditor(t)

	a.LogConnection("srv-1", "srv-1", "root", "")
	a.LogConnection("srv-1", "tab-2", "root", "corp-proxy")
	a.LogCommand("srv-1", "tab-2", "uptime", 0, 12)
	a.LogConnectionFailed("srv-2", "srv-2", "admin", "auth failed")
	a.LogDisconnection("srv-1", "tab-2", "user request", 5000)

	res, err := a.Query(QueryOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Total != 5 || len(res.Entries) != 5 || res.Limit != 50 {
		t.Fatalf("unexpected result total=%d entries=%d limit=%d", res.Total, len(res.Entries), res.Limit)
	}
	if res.Entries[0].EventType != EventConnectionTerminated {
		t.Errorf("expected newest first, got %s", res.Entries[0].EventType)
	}

	res, _ = a.Query(QueryOptions{ServerID: "srv-1", Identity: "tab-2"})
	if res.Total != 3 {
		t.Errorf("expected 3 entries for tab-2, got %d", res.Total)
	}

	res, _ = a.Query(QueryOptions{EventType: EventCommandExecution})
	if res.Total != 1 || res.Entries[0].Details != "cmd=uptime exit=0" || res.Entries[0].Duration != 12 {
		t.Errorf("unexpected command entry %+v", res.Entries)
	}

	res, _ = a.Query(QueryOptions{ServerID: "srv-1", EventType: EventConnectionEstablished})
	if res.Total != 2 {
		t.Errorf("expected 2 connection entries, got %d", res.Total)
	}
	var via bool
	for _, e := range res.Entries {
		if strings.Contains(e.Details, "via=corp-proxy") {
			via = true
		}
	}
	if !via {
		t.Error("proxy name missing from connection details")
	}
}

func TestQuery_Pagination(t *testing.T) {
	a := newTestAuditor(t)
	for i := 0; i < 7; i++ {
		a.LogCommand("srv", "srv", "true", 0, 0)
	}
	res, err := a.Query(QueryOptions{Limit: 5, Offset: 5})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Total != 7 || len(res.Entries) != 2 {
		t.Errorf("expected 2 of 7, got %d of %d", len(res.Entries), res.Total)
	}
	res, _ = a.Query(QueryOptions{Limit: 5000})
	if res.Limit != 1000 {
		t.Errorf("limit should be capped at 1000, got %d", res.Limit)
	}
}

func TestQuery_TimeRange(t *testing.T) {
	a := newTestAuditor(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Hour)
		a.SetNowFunc(func() time.Time { return at })
		a.LogCommand("srv", "srv", "date", 0, 0)
	}

	since := base.Add(30 * time.Minute)
	res, _ := a.Query(QueryOptions{Since: &since})
	if res.Total != 2 {
		t.Errorf("since: expected 2, got %d", res.Total)
	}
	until := base.Add(90 * time.Minute)
	res, _ = a.Query(QueryOptions{Since: &since, Until: &until})
	if res.Total != 1 {
		t.Errorf("range: expected 1, got %d", res.Total)
	}
}

func TestPurgeOlderThan(t *testing.T) {
	a := newTestAuditor(t)
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	a.SetNowFunc(func() time.Time { return now.AddDate(0, 0, -100) })
	a.LogConnection("old", "old", "root", "")
	a.SetNowFunc(func() time.Time { return now.AddDate(0, 0, -10) })
	a.LogConnection("recent", "recent", "root", "")
	a.SetNowFunc(func() time.Time { return now })

	n, err := a.PurgeOlderThan(0)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged entry, got %d", n)
	}
	n, _ = a.PurgeOlderThan(5)
	if n != 1 {
		t.Errorf("expected the 10-day-old entry purged with a 5 day window, got %d", n)
	}
}

func TestExtractSourceIP(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		remote string
		want   string
	}{
		{"forwarded", map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.1"}, "127.0.0.1:5000", "1.2.3.4"},
		{"real ip", map[string]string{"X-Real-Ip": "5.6.7.8"}, "127.0.0.1:5000", "5.6.7.8"},
		{"remote addr", nil, "192.168.1.9:5000", "192.168.1.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			if got := ExtractSourceIP(r); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
