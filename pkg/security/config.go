// Package security holds the TLS settings shared by the websocket sink
// server and the NATS link LoggerNet sources connect through
package security

import (
	"fmt"
)

// Config holds the process TLS configuration
type Config struct {
	TLS TLSConfig `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// TLSConfig splits settings by direction. Server applies to the websocket
// sink listener, Client to outgoing NATS connections.
type TLSConfig struct {
	Server ServerTLSConfig `json:"server,omitempty" yaml:"server,omitempty"`
	Client ClientTLSConfig `json:"client,omitempty" yaml:"client,omitempty"`
}

// ServerTLSConfig holds the certificate a listener presents and the optional
// client certificate policy
type ServerTLSConfig struct {
	Enabled    bool             `json:"enabled"               yaml:"enabled"`
	CertFile   string           `json:"cert_file,omitempty"   yaml:"cert_file,omitempty"`
	KeyFile    string           `json:"key_file,omitempty"    yaml:"key_file,omitempty"`
	MinVersion string           `json:"min_version,omitempty" yaml:"min_version,omitempty"` // "1.2" or "1.3"
	MTLS       ServerMTLSConfig `json:"mtls,omitempty"        yaml:"mtls,omitempty"`
}

// ServerMTLSConfig controls client certificate validation
type ServerMTLSConfig struct {
	Enabled           bool     `json:"enabled"                       yaml:"enabled"`
	ClientCAFiles     []string `json:"client_ca_files,omitempty"     yaml:"client_ca_files,omitempty"`
	RequireClientCert bool     `json:"require_client_cert,omitempty" yaml:"require_client_cert,omitempty"`
	AllowedClientCNs  []string `json:"allowed_client_cns,omitempty"  yaml:"allowed_client_cns,omitempty"`
}

// ClientTLSConfig holds the trust settings for outgoing connections. The
// system CA pool is always used; CAFiles are added to it.
type ClientTLSConfig struct {
	Enabled            bool             `json:"enabled"                        yaml:"enabled"`
	CAFiles            []string         `json:"ca_files,omitempty"             yaml:"ca_files,omitempty"`
	InsecureSkipVerify bool             `json:"insecure_skip_verify,omitempty" yaml:"insecure_skip_verify,omitempty"`
	MinVersion         string           `json:"min_version,omitempty"          yaml:"min_version,omitempty"`
	MTLS               ClientMTLSConfig `json:"mtls,omitempty"                 yaml:"mtls,omitempty"`
}

// ClientMTLSConfig names the certificate a client presents
type ClientMTLSConfig struct {
	Enabled  bool   `json:"enabled"             yaml:"enabled"`
	CertFile string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"  yaml:"key_file,omitempty"`
}

// Validate checks that enabled settings name the files they need
func (c Config) Validate() error {
	s := c.TLS.Server
	if s.Enabled {
		if s.CertFile == "" || s.KeyFile == "" {
			return fmt.Errorf("tls.server requires cert_file and key_file")
		}
		if err := validVersion(s.MinVersion); err != nil {
			return fmt.Errorf("tls.server: %w", err)
		}
		if s.MTLS.Enabled && len(s.MTLS.ClientCAFiles) == 0 {
			return fmt.Errorf("tls.server.mtls requires client_ca_files")
		}
	}
	cl := c.TLS.Client
	if cl.Enabled {
		if err := validVersion(cl.MinVersion); err != nil {
			return fmt.Errorf("tls.client: %w", err)
		}
		if cl.MTLS.Enabled && (cl.MTLS.CertFile == "" || cl.MTLS.KeyFile == "") {
			return fmt.Errorf("tls.client.mtls requires cert_file and key_file")
		}
	}
	return nil
}

func validVersion(v string) error {
	switch v {
	case "", "1.2", "1.3":
		return nil
	default:
		return fmt.Errorf("unsupported min_version %q", v)
	}
}
