package tls

import (
	"crypto/tls"
	"encoding/pem"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		input   string
		want    uint16
		wantErr bool
	}{
		{"1.0", tls.VersionTLS10, false},
		{"1.1", tls.VersionTLS11, false},
		{"1.2", tls.VersionTLS12, false},
		{"1.3", tls.VersionTLS13, false},
		{"", 0, true},
		{"TLS1.2", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseVersion(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseVersion(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseVersion(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestClientConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ClientConfig
		wantErr bool
	}{
		{"zero", ClientConfig{}, false},
		{"min version", ClientConfig{MinVersion: "1.3"}, false},
		{"bad min version", ClientConfig{MinVersion: "2"}, true},
		{"cert without key", ClientConfig{ClientCertFile: "client.pem"}, true},
		{"key without cert", ClientConfig{ClientKeyFile: "client.key"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestClientConfig_BuildZero(t *testing.T) {
	cfg, err := ClientConfig{}.Build()
	if err != nil || cfg != nil {
		t.Errorf("Build() = %v, %v; want nil, nil", cfg, err)
	}
}

func TestClientConfig_BuildRootCA(t *testing.T) {
	srv := httptest.NewTLSServer(nil)
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "ca.pem")
	block := &pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := ClientConfig{RootCAFile: path, MinVersion: "1.2", ServerName: "example.com"}.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if cfg.RootCAs == nil {
		t.Error("RootCAs not set")
	}
	if cfg.MinVersion != tls.VersionTLS12 || cfg.ServerName != "example.com" {
		t.Errorf("cfg = MinVersion %d ServerName %q", cfg.MinVersion, cfg.ServerName)
	}
}

func TestClientConfig_BuildErrors(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.pem")
	if err := os.WriteFile(garbage, []byte("not a certificate"), 0600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		cfg  ClientConfig
	}{
		{"missing CA", ClientConfig{RootCAFile: filepath.Join(dir, "missing.pem")}},
		{"CA without certificates", ClientConfig{RootCAFile: garbage}},
		{"bad key pair", ClientConfig{ClientCertFile: garbage, ClientKeyFile: garbage}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.cfg.Build(); err == nil {
				t.Error("Build() succeeded, want error")
			}
		})
	}
}
