// Package tls builds client TLS settings for https stream URLs.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// ClientConfig is the TLS section of a stream configuration. The zero
// value uses the system roots and Go's default minimum version.
type ClientConfig struct {
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
	ServerName         string `yaml:"serverName"`
	RootCAFile         string `yaml:"rootCAFile"`
	ClientCertFile     string `yaml:"clientCertFile"`
	ClientKeyFile      string `yaml:"clientKeyFile"`
	MinVersion         string `yaml:"minVersion"`
}

// IsZero reports whether c leaves every setting at its default
func (c ClientConfig) IsZero() bool {
	return c == ClientConfig{}
}

// Validate checks c without touching the filesystem
func (c ClientConfig) Validate() error {
	if (c.ClientCertFile == "") != (c.ClientKeyFile == "") {
		return fmt.Errorf("clientCertFile and clientKeyFile must be set together")
	}
	if c.MinVersion != "" {
		if _, err := ParseVersion(c.MinVersion); err != nil {
			return err
		}
	}
	return nil
}

// Build loads the referenced files and returns the crypto/tls settings.
// It returns nil for the zero config.
func (c ClientConfig) Build() (*tls.Config, error) {
	if c.IsZero() {
		return nil, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	cfg := &tls.Config{
		InsecureSkipVerify: c.InsecureSkipVerify,
		ServerName:         c.ServerName,
	}
	if c.MinVersion != "" {
		cfg.MinVersion, _ = ParseVersion(c.MinVersion)
	}

	if c.RootCAFile != "" {
		pem, err := os.ReadFile(c.RootCAFile)
		if err != nil {
			return nil, fmt.Errorf("read root CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", c.RootCAFile)
		}
		cfg.RootCAs = pool
	}

	if c.ClientCertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.ClientCertFile, c.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

// ParseVersion maps "1.0" through "1.3" to the crypto/tls constants
func ParseVersion(v string) (uint16, error) {
	switch v {
	case "1.0":
		return tls.VersionTLS10, nil
	case "1.1":
		return tls.VersionTLS11, nil
	case "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unknown TLS version %q, want 1.0, 1.1, 1.2 or 1.3", v)
	}
}
