package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.DownloadTTL != 5*time.Minute {
		t.Errorf("DownloadTTL = %v, want 5m", cfg.DownloadTTL)
	}
	if cfg.ConsumeGrace != time.Minute {
		t.Errorf("ConsumeGrace = %v, want 1m", cfg.ConsumeGrace)
	}
	if cfg.RecordRetention != 30*24*time.Hour {
		t.Errorf("RecordRetention = %v, want 720h", cfg.RecordRetention)
	}
}

func TestParseDuration(t *testing.T) {
	t.Setenv("DOWNLOAD_TTL", "90s")
	if got := ParseDuration("DOWNLOAD_TTL", time.Minute); got != 90*time.Second {
		t.Errorf("ParseDuration(90s) = %v, want 90s", got)
	}

	// bare integers are seconds
	t.Setenv("DOWNLOAD_TTL", "300")
	if got := ParseDuration("DOWNLOAD_TTL", time.Minute); got != 5*time.Minute {
		t.Errorf("ParseDuration(300) = %v, want 5m", got)
	}

	t.Setenv("DOWNLOAD_TTL", "soon")
	if got := ParseDuration("DOWNLOAD_TTL", time.Minute); got != time.Minute {
		t.Errorf("ParseDuration(invalid) = %v, want default 1m", got)
	}
}

func TestParseBool(t *testing.T) {
	if got := ParseBool("MIGRATIONS", false); got {
		t.Error("ParseBool(unset) = true, want default false")
	}

	t.Setenv("MIGRATIONS", "1")
	if got := ParseBool("MIGRATIONS", false); !got {
		t.Error("ParseBool(1) = false, want true")
	}

	t.Setenv("MIGRATIONS", "maybe")
	if got := ParseBool("MIGRATIONS", true); !got {
		t.Error("ParseBool(invalid) = false, want default true")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ARTIFACT_ROOT", "/var/lib/billing/artifacts")
	t.Setenv("RENDER_TIMEOUT", "2s")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Port)
	}
	if cfg.ArtifactRoot != "/var/lib/billing/artifacts" {
		t.Errorf("ArtifactRoot = %q", cfg.ArtifactRoot)
	}
	if cfg.RenderTimeout != 2*time.Second {
		t.Errorf("RenderTimeout = %v, want 2s", cfg.RenderTimeout)
	}
}
