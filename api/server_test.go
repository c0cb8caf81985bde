package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"s7link/config"
	"s7link/engine"
)

func testManager(t *testing.T) *engine.Manager {
	t.Helper()
	cfg := &config.Config{
		Namespace: "ns",
		PLCs: []config.PLCConfig{
			{Name: "line1", Address: "10.0.0.5:102", Tags: []config.TagSelection{
				{Name: "DB1.DBD0", Enabled: true, Writable: true},
			}},
		},
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	return engine.New(cfg, path)
}

func TestListPLCsEmptySnapshot(t *testing.T) {
	mgr := testManager(t)
	router := NewRouter(mgr)

	req := httptest.NewRequest(http.MethodGet, "/plcs", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var got []PLCResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no managed PLCs before Start, got %d", len(got))
	}
}

func TestGetPLCNotFound(t *testing.T) {
	mgr := testManager(t)
	router := NewRouter(mgr)

	req := httptest.NewRequest(http.MethodGet, "/plcs/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestWriteTagRejectsUnwritable(t *testing.T) {
	mgr := testManager(t)
	router := NewRouter(mgr)

	req := httptest.NewRequest(http.MethodPost, "/plcs/line1/tags/DB1.DBD4", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a tag not marked writable, got %d", rec.Code)
	}
}

func TestWriteTagRejectsUnknownPLC(t *testing.T) {
	mgr := testManager(t)
	router := NewRouter(mgr)

	req := httptest.NewRequest(http.MethodPost, "/plcs/nope/tags/DB1.DBD0", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
