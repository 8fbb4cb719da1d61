package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	tlsCrt = "tls.crt"
	tlsKey = "tls.key"

	devValidDays = 365
)

// Config selects the certificate used when serving over TLS. Explicit files
// win; otherwise a self-signed development certificate is generated once in
// Dir and reused across restarts.
type Config struct {
	Enabled    bool   `mapstructure:"enabled"`
	CertFile   string `mapstructure:"cert_file"`
	KeyFile    string `mapstructure:"key_file"`
	Dir        string `mapstructure:"dir"`
	MinVersion string `mapstructure:"min_version"`
	// Hosts are added to the generated certificate's SANs.
	Hosts []string `mapstructure:"hosts"`
}

// parseTLSVersion parses TLS version string and returns the corresponding constant
func parseTLSVersion(ver string) (uint16, error) {
	switch ver {
	case "", "default", "1.2", "TLS1.2", "tls1.2":
		return tls.VersionTLS12, nil
	case "1.3", "TLS1.3", "tls1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version %q", ver)
	}
}

// DefaultDir is where development certificates are cached.
func DefaultDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "devsrv", "tls")
}

// Setup builds a *tls.Config from cfg. It returns nil when TLS is disabled.
func Setup(cfg Config) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	minVer, err := parseTLSVersion(cfg.MinVersion)
	if err != nil {
		return nil, err
	}

	certPath, keyPath := cfg.CertFile, cfg.KeyFile
	switch {
	case certPath != "" && keyPath != "":
	case certPath != "" || keyPath != "":
		return nil, errors.New("both cert_file and key_file are required")
	default:
		dir := cfg.Dir
		if dir == "" {
			dir = DefaultDir()
		}
		certPath, keyPath = filepath.Join(dir, tlsCrt), filepath.Join(dir, tlsKey)
		if !devCertificateUsable(certPath, keyPath, cfg.Hosts) {
			if err := writeDevCertificate(dir, cfg.Hosts); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	}

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVer,
	}, nil
}
