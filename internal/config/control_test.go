package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestControlPlaneConfig_Validation(t *testing.T) {
	runLoadCases(t, []loadCase{
		{
			name: "Should fail validation when TLS enabled without certificates",
			envVars: mergeEnvVars(map[string]string{
				"FACTORY_SERVER_CONTROL_TLS_ENABLED": "true",
			}),
			wantErr: true,
		},
		{
			name: "Should pass validation when TLS properly configured with cert and key",
			envVars: mergeEnvVars(map[string]string{
				"FACTORY_SERVER_CONTROL_TLS_ENABLED":   "true",
				"FACTORY_SERVER_CONTROL_TLS_CERT_FILE": "/certs/tls.crt",
				"FACTORY_SERVER_CONTROL_TLS_KEY_FILE":  "/certs/tls.key",
			}),
			want: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Server.Control.TLSEnabled)
				assert.Equal(t, "/certs/tls.crt", cfg.Server.Control.TLSCert)
				assert.Equal(t, "/certs/tls.key", cfg.Server.Control.TLSKey)
			},
		},
		{
			name: "Should fail validation when control plane TLS disabled in production",
			envVars: withProduction(func(env map[string]string) {
				env["FACTORY_SERVER_CONTROL_TLS_ENABLED"] = "false"
			}),
			wantErr: true,
		},
		{
			name: "Should pass validation with exactly 12 char passwords in production",
			envVars: withProduction(func(env map[string]string) {
				env["FACTORY_DB_PASSWORD"] = "exactly12chr"
				env["FACTORY_REDIS_PASSWORD"] = "redis_pass12"
			}),
		},
		{
			name:    "Should fail validation with port 0",
			envVars: mergeEnvVars(map[string]string{"FACTORY_SERVER_CONTROL_PORT": "0"}),
			wantErr: true,
		},
		{
			name:    "Should fail validation when MaxHeaderBytes is zero",
			envVars: mergeEnvVars(map[string]string{"FACTORY_SERVER_CONTROL_MAX_HEADER_BYTES": "0"}),
			wantErr: true,
		},
		{
			name:    "Should fail validation when MaxBodyBytes is negative",
			envVars: mergeEnvVars(map[string]string{"FACTORY_SERVER_CONTROL_MAX_BODY_BYTES": "-100"}),
			wantErr: true,
		},
		{
			name:    "Should fail validation when NotifyMaxRetries is zero",
			envVars: mergeEnvVars(map[string]string{"FACTORY_SERVER_CONTROL_NOTIFY_MAX_RETRIES": "0"}),
			wantErr: true,
		},
		{
			name:    "Should fail validation with host containing leading whitespace",
			envVars: mergeEnvVars(map[string]string{"FACTORY_SERVER_CONTROL_HOST": " 0.0.0.0"}),
			wantErr: true,
		},
		{
			name:    "Should fail validation with host containing trailing whitespace",
			envVars: mergeEnvVars(map[string]string{"FACTORY_SERVER_CONTROL_HOST": "0.0.0.0 "}),
			wantErr: true,
		},
		{
			name:    "Should verify control plane defaults",
			envVars: mergeEnvVars(nil),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "0.0.0.0:8080", cfg.Server.Control.Address())
				assert.Equal(t, 10*time.Second, cfg.Server.Control.ReadTimeout)
				assert.Equal(t, 30*time.Second, cfg.Server.Control.WriteTimeout)
				assert.Equal(t, 5*time.Second, cfg.Server.Control.ReadHeaderTimeout)
				assert.Equal(t, 60*time.Second, cfg.Server.Control.IdleTimeout)
				assert.Equal(t, 524288, cfg.Server.Control.MaxHeaderBytes)
				assert.Equal(t, int64(65536), cfg.Server.Control.MaxBodyBytes)
				assert.Equal(t, 2*time.Second, cfg.Server.Control.NotifyTimeout)
				assert.Equal(t, 3, cfg.Server.Control.NotifyMaxRetries)
			},
		},
	})
}
