package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := NewConfig()
	assert.Error(t, err)
}

func TestNewConfig_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/cadence")
	t.Setenv("PROSPECT_REPLY_EMAIL", "replies@example.com")

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.MaxExecutionsPerCycle)
	assert.Equal(t, 24, cfg.IMAPLookbackHours)
	assert.Equal(t, "replies@example.com", cfg.ProspectIMAPUser)
	assert.NotNil(t, cfg.BusinessLocation)
	assert.False(t, cfg.IMAPConfigured(), "password missing")
}

func TestNewConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown timezone", map[string]string{"BUSINESS_TIMEZONE": "Mars/Olympus"}},
		{"inverted hours", map[string]string{"BUSINESS_HOURS_START": "18", "BUSINESS_HOURS_END": "9"}},
		{"hours past midnight", map[string]string{"BUSINESS_HOURS_END": "25"}},
		{"unknown ai provider", map[string]string{"AI_PROVIDER": "oracle"}},
		{"unknown storage", map[string]string{"STORAGE_PROVIDER": "ftp"}},
		{"r2 without bucket", map[string]string{
			"STORAGE_PROVIDER": "r2", "R2_ACCOUNT_ID": "a", "R2_ACCESS_KEY_ID": "k", "R2_SECRET_ACCESS_KEY": "s",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "postgres://localhost/cadence")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := NewConfig()
			assert.Error(t, err)
		})
	}
}
