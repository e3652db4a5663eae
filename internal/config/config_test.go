package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, 2*time.Second, cfg.ThrottleInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.DashboardDebounce)
	assert.Equal(t, 4, cfg.BucketCap)
	assert.Equal(t, "America/New_York", cfg.BusinessTimezone)
	assert.Zero(t, cfg.PhaseCacheTTL)
	assert.Equal(t, "paintops:changes", cfg.RedisChannel)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("VIEW_THROTTLE_INTERVAL", "5s")
	t.Setenv("DASHBOARD_BUCKET_CAP", "6")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.ThrottleInterval)
	assert.Equal(t, 6, cfg.BucketCap)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad duration", "DASHBOARD_DEBOUNCE", "soon"},
		{"negative duration", "VIEW_THROTTLE_INTERVAL", "-1s"},
		{"zero cap", "DASHBOARD_BUCKET_CAP", "0"},
		{"unknown timezone", "BUSINESS_TIMEZONE", "Mars/Olympus_Mons"},
		{"unknown driver", "STORE_DRIVER", "mongo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("STORE_DRIVER", "memory")
			t.Setenv("JWT_SECRET", "s3cret")
			t.Setenv(tt.key, tt.val)

			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestLoadPostgresRequiresDatabaseURL(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "s3cret")

	assert.Panics(t, func() { _, _ = Load() })
}
