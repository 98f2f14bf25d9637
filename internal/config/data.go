package config

import (
	"time"
)

// DataPlaneConfig configures the gRPC assignment and event service.
type DataPlaneConfig struct {
	Port string `envconfig:"PORT" default:"50051"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`

	MaxConcurrentStreams uint32        `envconfig:"MAX_CONCURRENT_STREAMS" default:"100" validate:"min=1"`
	KeepaliveTime        time.Duration `envconfig:"KEEPALIVE_TIME" default:"120s"`
	KeepaliveTimeout     time.Duration `envconfig:"KEEPALIVE_TIMEOUT" default:"20s"`
	MaxConnectionAge     time.Duration `envconfig:"MAX_CONNECTION_AGE" default:"300s"`
	RequestTimeout       time.Duration `envconfig:"REQUEST_TIMEOUT" default:"5s" validate:"gt=0"`
}

// Validate performs validation on the DataPlaneConfig.
func (c *DataPlaneConfig) Validate() error {
	if err := validatePort(c.Port, "data plane"); err != nil {
		return err
	}

	if err := validateHost(c.Host, "data plane"); err != nil {
		return err
	}

	return nil
}

// Address returns the listen address in host:port form.
func (c *DataPlaneConfig) Address() string {
	return c.Host + ":" + c.Port
}
