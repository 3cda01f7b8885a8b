package mauzr

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSRVResolver(t *testing.T) {
	t.Run("maps records to tls URLs", func(t *testing.T) {
		var gotService, gotProto, gotName string
		lookup := func(_ context.Context, service, proto, name string) (string, []*net.SRV, error) {
			gotService, gotProto, gotName = service, proto, name
			return "", []*net.SRV{
				{Target: "a.example.com.", Port: 8883},
				{Target: "b.example.com", Port: 1884},
			}, nil
		}

		servers, err := SRVResolver("example.com", lookup)(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"tls://a.example.com:8883", "tls://b.example.com:1884"}, servers)
		assert.Equal(t, "secure-mqtt", gotService)
		assert.Equal(t, "tcp", gotProto)
		assert.Equal(t, "example.com", gotName)
	})

	t.Run("lookup failure", func(t *testing.T) {
		boom := errors.New("no such host")
		lookup := func(context.Context, string, string, string) (string, []*net.SRV, error) {
			return "", nil, boom
		}

		_, err := SRVResolver("example.com", lookup)(context.Background())
		assert.ErrorIs(t, err, boom)
	})
}

func TestLoadTLSConfig(t *testing.T) {
	tc := newTestCert(t)
	dir := t.TempDir()

	caPath := filepath.Join(dir, "ca.pem")
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(caPath, tc.certPEM, 0o600))
	require.NoError(t, os.WriteFile(certPath, tc.certPEM, 0o600))
	require.NoError(t, os.WriteFile(keyPath, tc.keyPEM, 0o600))

	t.Run("empty", func(t *testing.T) {
		cfg, err := LoadTLSConfig(Config{})
		require.NoError(t, err)
		assert.Nil(t, cfg.RootCAs)
		assert.Empty(t, cfg.Certificates)
		assert.Equal(t, []string{ALPNProtocol}, cfg.NextProtos)
	})

	t.Run("ca and key pair", func(t *testing.T) {
		cfg, err := LoadTLSConfig(Config{CA: caPath, Cert: certPath, Key: keyPath})
		require.NoError(t, err)
		assert.NotNil(t, cfg.RootCAs)
		require.Len(t, cfg.Certificates, 1)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := LoadTLSConfig(Config{Cert: certPath})
		assert.ErrorContains(t, err, "key is required")
	})

	t.Run("missing CA file", func(t *testing.T) {
		_, err := LoadTLSConfig(Config{CA: filepath.Join(dir, "missing.pem")})
		assert.ErrorContains(t, err, "reading CA")
	})

	t.Run("CA without certificates", func(t *testing.T) {
		_, err := LoadTLSConfig(Config{CA: keyPath})
		assert.ErrorContains(t, err, "no certificates")
	})

	t.Run("broken pkcs12", func(t *testing.T) {
		p12 := filepath.Join(dir, "client.p12")
		require.NoError(t, os.WriteFile(p12, []byte("not a bundle"), 0o600))

		_, err := LoadTLSConfig(Config{Cert: p12, Password: "secret"})
		assert.ErrorContains(t, err, "loading client certificate")
	})
}
