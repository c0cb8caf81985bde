package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func boolPtr(b bool) *bool { return &b }

func TestPLCConfig_IsHealthCheckEnabled(t *testing.T) {
	tests := []struct {
		name     string
		cfg      PLCConfig
		expected bool
	}{
		{"default enabled", PLCConfig{}, true},
		{"explicit true", PLCConfig{HealthCheckEnabled: boolPtr(true)}, true},
		{"explicit false", PLCConfig{HealthCheckEnabled: boolPtr(false)}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cfg.IsHealthCheckEnabled(); got != tc.expected {
				t.Errorf("IsHealthCheckEnabled() = %v, want %v", got, tc.expected)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.PollRate != time.Second {
		t.Errorf("expected 1s poll rate, got %v", cfg.PollRate)
	}
	if !cfg.REST.Enabled {
		t.Error("expected REST.Enabled true by default")
	}
	if cfg.REST.Port != 8080 {
		t.Errorf("expected REST port 8080, got %d", cfg.REST.Port)
	}
	if len(cfg.PLCs) != 0 {
		t.Error("expected empty PLCs slice")
	}
}

func TestPLCOperations(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("AddPLC and FindPLC", func(t *testing.T) {
		cfg.AddPLC(PLCConfig{Name: "PLC1", Address: "192.168.1.1"})

		found := cfg.FindPLC("PLC1")
		if found == nil {
			t.Fatal("FindPLC returned nil")
		}
		if found.Address != "192.168.1.1" {
			t.Errorf("expected address '192.168.1.1', got %s", found.Address)
		}
	})

	t.Run("FindPLC returns nil for nonexistent", func(t *testing.T) {
		if cfg.FindPLC("nonexistent") != nil {
			t.Error("expected nil for nonexistent PLC")
		}
	})

	t.Run("UpdatePLC", func(t *testing.T) {
		updated := PLCConfig{Name: "PLC1", Address: "192.168.1.2", Enabled: true}
		if !cfg.UpdatePLC("PLC1", updated) {
			t.Error("UpdatePLC returned false")
		}
		if cfg.FindPLC("PLC1").Address != "192.168.1.2" {
			t.Error("PLC not updated")
		}
	})

	t.Run("UpdatePLC returns false for nonexistent", func(t *testing.T) {
		if cfg.UpdatePLC("nonexistent", PLCConfig{}) {
			t.Error("expected false for nonexistent PLC")
		}
	})

	t.Run("RemovePLC", func(t *testing.T) {
		if !cfg.RemovePLC("PLC1") {
			t.Error("RemovePLC returned false")
		}
		if cfg.FindPLC("PLC1") != nil {
			t.Error("PLC not removed")
		}
	})

	t.Run("RemovePLC returns false for nonexistent", func(t *testing.T) {
		if cfg.RemovePLC("nonexistent") {
			t.Error("expected false for nonexistent PLC")
		}
	})
}

func TestMQTTOperations(t *testing.T) {
	cfg := DefaultConfig()

	cfg.AddMQTT(MQTTConfig{Name: "Broker1", Broker: "mqtt.local"})
	found := cfg.FindMQTT("Broker1")
	if found == nil || found.Broker != "mqtt.local" {
		t.Fatalf("FindMQTT returned %+v", found)
	}
	if cfg.FindMQTT("nonexistent") != nil {
		t.Error("expected nil for nonexistent MQTT config")
	}
}

func TestLoadAndSave(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("returns default for nonexistent file", func(t *testing.T) {
		cfg, err := Load(filepath.Join(tmpDir, "nonexistent.yaml"))
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.PollRate != time.Second {
			t.Error("expected default config")
		}
	})

	t.Run("save and load roundtrip", func(t *testing.T) {
		path := filepath.Join(tmpDir, "test.yaml")

		cfg := &Config{
			Namespace: "plant1",
			PollRate:  500 * time.Millisecond,
			PLCs: []PLCConfig{
				{Name: "TestPLC", Address: "192.168.1.100", Enabled: true},
			},
			REST: RESTConfig{Enabled: true, Port: 9090},
			MQTT: []MQTTConfig{
				{Name: "TestMQTT", Broker: "mqtt.local", Port: 1883},
			},
		}

		if err := cfg.Save(path); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		loaded, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}

		if loaded.PollRate != 500*time.Millisecond {
			t.Errorf("expected 500ms poll rate, got %v", loaded.PollRate)
		}
		if len(loaded.PLCs) != 1 || loaded.PLCs[0].Name != "TestPLC" {
			t.Error("PLC config not preserved")
		}
		if loaded.REST.Port != 9090 {
			t.Errorf("expected REST port 9090, got %d", loaded.REST.Port)
		}
		if len(loaded.MQTT) != 1 || loaded.MQTT[0].Broker != "mqtt.local" {
			t.Error("MQTT config not preserved")
		}
	})

	t.Run("creates directory if needed", func(t *testing.T) {
		path := filepath.Join(tmpDir, "subdir", "nested", "config.yaml")
		cfg := DefaultConfig()
		cfg.Namespace = "plant1"

		if err := cfg.Save(path); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			t.Error("config file was not created")
		}
	})

	t.Run("returns error for invalid yaml", func(t *testing.T) {
		path := filepath.Join(tmpDir, "invalid.yaml")
		os.WriteFile(path, []byte("invalid: yaml: content: ["), 0644)

		if _, err := Load(path); err == nil {
			t.Error("expected error for invalid YAML")
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{"missing namespace", &Config{}, true},
		{"empty plc name", &Config{Namespace: "ns", PLCs: []PLCConfig{{Address: "1.2.3.4"}}}, true},
		{"missing address", &Config{Namespace: "ns", PLCs: []PLCConfig{{Name: "a"}}}, true},
		{"duplicate name", &Config{Namespace: "ns", PLCs: []PLCConfig{
			{Name: "a", Address: "1.2.3.4"}, {Name: "a", Address: "1.2.3.5"},
		}}, true},
		{"valid", &Config{Namespace: "ns", PLCs: []PLCConfig{{Name: "a", Address: "1.2.3.4"}}}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestAddOnChangeListener(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	cfg := DefaultConfig()
	cfg.Namespace = "plant1"

	done := make(chan struct{}, 1)
	id := cfg.AddOnChangeListener(func() { done <- struct{}{} })
	defer cfg.RemoveOnChangeListener(id)

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("change listener was not invoked")
	}
}

func TestDefaultPath(t *testing.T) {
	path := DefaultPath()
	if path == "" {
		t.Error("DefaultPath returned empty string")
	}
	if !filepath.IsAbs(path) && path != "config.yaml" {
		t.Error("expected absolute path or 'config.yaml'")
	}
}
