package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSyncerConfig_Validation(t *testing.T) {
	runLoadCases(t, []loadCase{
		{
			name: "Should pass validation with syncer configuration",
			envVars: mergeEnvVars(map[string]string{
				"FACTORY_SYNCER_ENABLED":                  "true",
				"FACTORY_SYNCER_POP_TIMEOUT":              "10s",
				"FACTORY_SYNCER_HYDRATION_CHECK_INTERVAL": "30s",
				"FACTORY_SYNCER_MAX_RETRIES":              "5",
				"FACTORY_SYNCER_BASE_RETRY_DELAY":         "2s",
				"FACTORY_SYNCER_HYDRATION_CONCURRENCY":    "20",
			}),
			want: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Syncer.Enabled)
				assert.Equal(t, 10*time.Second, cfg.Syncer.PopTimeout)
				assert.Equal(t, 30*time.Second, cfg.Syncer.HydrationCheckInterval)
				assert.Equal(t, 5, cfg.Syncer.MaxRetries)
				assert.Equal(t, 2*time.Second, cfg.Syncer.BaseRetryDelay)
				assert.Equal(t, 20, cfg.Syncer.HydrationConcurrency)
			},
		},
		{
			name: "Should fail validation when syncer PopTimeout is zero",
			envVars: mergeEnvVars(map[string]string{
				"FACTORY_SYNCER_POP_TIMEOUT": "0s",
			}),
			wantErr: true,
		},
		{
			name: "Should fail validation when syncer HydrationConcurrency is zero",
			envVars: mergeEnvVars(map[string]string{
				"FACTORY_SYNCER_HYDRATION_CONCURRENCY": "0",
			}),
			wantErr: true,
		},
		{
			name: "Should fail validation when syncer HydrationConcurrency is negative",
			envVars: mergeEnvVars(map[string]string{
				"FACTORY_SYNCER_HYDRATION_CONCURRENCY": "-1",
			}),
			wantErr: true,
		},
		{
			name: "Should fail validation when syncer MaxRetries is negative",
			envVars: mergeEnvVars(map[string]string{
				"FACTORY_SYNCER_MAX_RETRIES": "-5",
			}),
			wantErr: true,
		},
		{
			name:    "Should verify syncer defaults",
			envVars: mergeEnvVars(map[string]string{}),
			want: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Syncer.Enabled)
				assert.Equal(t, 5*time.Second, cfg.Syncer.PopTimeout)
				assert.Equal(t, 10*time.Second, cfg.Syncer.HydrationCheckInterval)
				assert.Equal(t, 3, cfg.Syncer.MaxRetries)
				assert.Equal(t, 1*time.Second, cfg.Syncer.BaseRetryDelay)
				assert.Equal(t, 10, cfg.Syncer.HydrationConcurrency)
			},
		},
	})
}
