package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/lgraccess/pkg/security"
	"github.com/c360/lgraccess/testutil"
)

func parseCert(t *testing.T, certFile string) *x509.Certificate {
	t.Helper()
	data, err := os.ReadFile(certFile)
	require.NoError(t, err)
	block, _ := pem.Decode(data)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	return cert
}

func TestLoadServerTLSConfig(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := testutil.WriteCert(t, dir, "server")

	tests := []struct {
		name    string
		cfg     security.ServerTLSConfig
		wantNil bool
		wantErr bool
	}{
		{name: "disabled", cfg: security.ServerTLSConfig{}, wantNil: true},
		{name: "tls 1.3", cfg: security.ServerTLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile, MinVersion: "1.3"}},
		{name: "default version", cfg: security.ServerTLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile}},
		{name: "missing cert", cfg: security.ServerTLSConfig{Enabled: true, CertFile: "/nonexistent/cert.pem", KeyFile: keyFile}, wantErr: true},
		{name: "missing key", cfg: security.ServerTLSConfig{Enabled: true, CertFile: certFile, KeyFile: "/nonexistent/key.pem"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadServerTLSConfig(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Len(t, got.Certificates, 1)
			assert.Equal(t, parseTLSVersion(tt.cfg.MinVersion), got.MinVersion)
			assert.Equal(t, tls.NoClientCert, got.ClientAuth)
		})
	}
}

func TestLoadServerTLSConfig_MTLS(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := testutil.WriteCert(t, dir, "server")
	caFile, _ := testutil.WriteCert(t, dir, "client-ca")

	cfg := security.ServerTLSConfig{
		Enabled: true, CertFile: certFile, KeyFile: keyFile,
		MTLS: security.ServerMTLSConfig{Enabled: true, ClientCAFiles: []string{caFile}, RequireClientCert: true},
	}
	got, err := LoadServerTLSConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, tls.RequireAndVerifyClientCert, got.ClientAuth)
	assert.NotNil(t, got.ClientCAs)
	assert.Nil(t, got.VerifyPeerCertificate)

	cfg.MTLS.RequireClientCert = false
	cfg.MTLS.AllowedClientCNs = []string{"logger-gateway"}
	got, err = LoadServerTLSConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, tls.VerifyClientCertIfGiven, got.ClientAuth)
	require.NotNil(t, got.VerifyPeerCertificate)
	assert.NoError(t, got.VerifyPeerCertificate(nil, nil), "optional client certificate may be absent")

	cfg.MTLS.ClientCAFiles = []string{filepath.Join(dir, "missing.pem")}
	_, err = LoadServerTLSConfig(cfg)
	assert.Error(t, err)
}

func TestLoadClientTLSConfig(t *testing.T) {
	dir := t.TempDir()
	caFile, _ := testutil.WriteCert(t, dir, "nats-ca")
	clientCert, clientKey := testutil.WriteCert(t, dir, "lgrkit")
	badPEM := filepath.Join(dir, "bad.pem")
	require.NoError(t, os.WriteFile(badPEM, []byte("not a certificate"), 0o644))

	got, err := LoadClientTLSConfig(security.ClientTLSConfig{})
	require.NoError(t, err)
	assert.Nil(t, got, "disabled")

	got, err = LoadClientTLSConfig(security.ClientTLSConfig{Enabled: true, CAFiles: []string{caFile}, MinVersion: "1.3"})
	require.NoError(t, err)
	require.NotNil(t, got.RootCAs)
	assert.Equal(t, uint16(tls.VersionTLS13), got.MinVersion)
	assert.False(t, got.InsecureSkipVerify)
	assert.Empty(t, got.Certificates)

	got, err = LoadClientTLSConfig(security.ClientTLSConfig{
		Enabled: true,
		MTLS:    security.ClientMTLSConfig{Enabled: true, CertFile: clientCert, KeyFile: clientKey},
	})
	require.NoError(t, err)
	assert.Len(t, got.Certificates, 1)

	_, err = LoadClientTLSConfig(security.ClientTLSConfig{Enabled: true, CAFiles: []string{badPEM}})
	assert.Error(t, err)

	_, err = LoadClientTLSConfig(security.ClientTLSConfig{
		Enabled: true,
		MTLS:    security.ClientMTLSConfig{Enabled: true, CertFile: clientCert, KeyFile: "/nonexistent/key.pem"},
	})
	assert.Error(t, err)
}

func TestVerifyAllowedClientCN(t *testing.T) {
	dir := t.TempDir()
	certFile, _ := testutil.WriteCert(t, dir, "logger-gateway")
	chains := [][]*x509.Certificate{{parseCert(t, certFile)}}

	assert.NoError(t, verifyAllowedClientCN(chains, []string{"other", "logger-gateway"}))
	assert.Error(t, verifyAllowedClientCN(chains, []string{"other"}))
	assert.Error(t, verifyAllowedClientCN(nil, []string{"logger-gateway"}))
}

func TestParseTLSVersion(t *testing.T) {
	assert.Equal(t, uint16(tls.VersionTLS13), parseTLSVersion("1.3"))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion("1.2"))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion(""))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion("1.0"))
}

func TestHandshake(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := testutil.WriteCert(t, dir, "localhost")

	serverCfg, err := LoadServerTLSConfig(security.ServerTLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile})
	require.NoError(t, err)
	clientCfg, err := LoadClientTLSConfig(security.ClientTLSConfig{Enabled: true, CAFiles: []string{certFile}})
	require.NoError(t, err)
	clientCfg.ServerName = "localhost"

	ln, err := tls.Listen("tcp", "127.0.0.1:0", serverCfg)
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			accepted <- err
			return
		}
		defer conn.Close()
		accepted <- conn.(*tls.Conn).Handshake()
	}()

	conn, err := tls.Dial("tcp", ln.Addr().String(), clientCfg)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, <-accepted)
	assert.Equal(t, "localhost", conn.ConnectionState().PeerCertificates[0].Subject.CommonName)
}

func TestSecurityConfig_Validate(t *testing.T) {
	valid := security.Config{TLS: security.TLSConfig{
		Server: security.ServerTLSConfig{Enabled: true, CertFile: "c", KeyFile: "k", MinVersion: "1.3"},
		Client: security.ClientTLSConfig{Enabled: true},
	}}
	assert.NoError(t, valid.Validate())
	assert.NoError(t, security.Config{}.Validate())

	cases := map[string]security.Config{
		"server without key": {TLS: security.TLSConfig{Server: security.ServerTLSConfig{Enabled: true, CertFile: "c"}}},
		"server version":     {TLS: security.TLSConfig{Server: security.ServerTLSConfig{Enabled: true, CertFile: "c", KeyFile: "k", MinVersion: "1.0"}}},
		"mtls without ca": {TLS: security.TLSConfig{Server: security.ServerTLSConfig{
			Enabled: true, CertFile: "c", KeyFile: "k", MTLS: security.ServerMTLSConfig{Enabled: true},
		}}},
		"client mtls without cert": {TLS: security.TLSConfig{Client: security.ClientTLSConfig{
			Enabled: true, MTLS: security.ClientMTLSConfig{Enabled: true},
		}}},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, c.Validate())
		})
	}
}
