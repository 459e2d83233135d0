package config

import "testing"

func TestNormalizePrefix(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"root slash", "/", ""},
		{"no leading slash", "foo", "/foo"},
		{"leading slash", "/foo", "/foo"},
		{"trailing slash", "/foo/", "/foo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizePrefix(tt.in); got != tt.want {
				t.Errorf("normalizePrefix(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg := LoadFromEnv()
	if cfg.Server.Port != 8080 {
		t.Errorf("default Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.PathPrefix != "" {
		t.Errorf("default PathPrefix = %q, want empty", cfg.Server.PathPrefix)
	}
	if cfg.Server.MaxBodyBytes != defaultMaxBodyBytes {
		t.Errorf("default MaxBodyBytes = %d, want %d", cfg.Server.MaxBodyBytes, defaultMaxBodyBytes)
	}
	if cfg.Redis.Addr != "" {
		t.Errorf("default Redis.Addr = %q, want empty (in-process token cache)", cfg.Redis.Addr)
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("PYOCI_PATH", "/mirror/")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg := LoadFromEnv()
	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.PathPrefix != "/mirror" {
		t.Errorf("PathPrefix = %q, want /mirror", cfg.Server.PathPrefix)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Redis.Addr = %q, want localhost:6379", cfg.Redis.Addr)
	}
}
