package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"nuha.dev/udpgps/internal/udpgps"
)

func TestDefaults(t *testing.T) {
	c, err := Load(New())
	if err != nil {
		t.Fatal(err)
	}
	if c.LogLevel != "info" || c.Interval != time.Second || c.DbTable != "locations" || c.NatsSubject != "udpgps.location" {
		t.Errorf("defaults %+v", c)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("UDPGPS_PORT", "9999")
	t.Setenv("UDPGPS_INTERVAL", "250ms")
	t.Setenv("UDPGPS_LAT", "-33.5")
	c, err := Load(New())
	if err != nil {
		t.Fatal(err)
	}
	if c.Port != "9999" || c.Interval != 250*time.Millisecond || c.Latitude != -33.5 {
		t.Errorf("config %+v", c)
	}
}

func TestValidation(t *testing.T) {
	v := New()
	v.Set("lat", 91.0)
	if _, err := Load(v); !errors.Is(err, udpgps.ErrConfig) {
		t.Errorf("lat 91: err=%v", err)
	}
	v = New()
	v.Set("log_level", "loud")
	if _, err := Load(v); !errors.Is(err, udpgps.ErrConfig) {
		t.Errorf("log level: err=%v", err)
	}
	v = New()
	v.Set("interval", "0s")
	if _, err := Load(v); !errors.Is(err, udpgps.ErrConfig) {
		t.Errorf("interval: err=%v", err)
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "udpgps.yaml")
	if err := os.WriteFile(path, []byte("host: 10.0.0.9\nport: \"7000\"\nsim: true\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	v := New()
	if err := ReadFile(v, path); err != nil {
		t.Fatal(err)
	}
	c, err := Load(v)
	if err != nil {
		t.Fatal(err)
	}
	if c.Host != "10.0.0.9" || c.Port != "7000" || !c.Simulate {
		t.Errorf("config %+v", c)
	}
	if err := ReadFile(New(), filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("explicit missing file should fail")
	}
}
