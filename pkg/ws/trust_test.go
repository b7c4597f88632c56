package ws_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"math/big"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LLIEPJIOK/websocketssl/pkg/ws"
)

// generateTestCA создаёт CA сертификат для тестов
func generateTestCA(t *testing.T) (caCertPEM []byte, caCert *x509.Certificate, caKey *ecdsa.PrivateKey) {
	t.Helper()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate CA key: %v", err)
	}

	caTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Test CA"},
			CommonName:   "Test CA",
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
	}

	caCertDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("failed to create CA certificate: %v", err)
	}

	caCert, err = x509.ParseCertificate(caCertDER)
	if err != nil {
		t.Fatalf("failed to parse CA certificate: %v", err)
	}

	caCertPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: caCertDER})

	return caCertPEM, caCert, caKey
}

// generateServerCert создаёт серверный сертификат, подписанный CA
func generateServerCert(t *testing.T, host string, caCert *x509.Certificate, caKey *ecdsa.PrivateKey) *x509.Certificate {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate private key: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			Organization: []string{"Test Org"},
			CommonName:   host,
		},
		DNSNames:    []string{host},
		NotBefore:   time.Now().Add(-time.Minute),
		NotAfter:    time.Now().Add(time.Hour),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, caCert, &key.PublicKey, caKey)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}

	return cert
}

func TestParseCertificate(t *testing.T) {
	caPEM, caCert, _ := generateTestCA(t)

	t.Run("PEM", func(t *testing.T) {
		cert, err := ws.ParseCertificate(caPEM)
		require.NoError(t, err)
		assert.Equal(t, "Test CA", cert.Subject.CommonName)
	})

	t.Run("DER", func(t *testing.T) {
		cert, err := ws.ParseCertificate(caCert.Raw)
		require.NoError(t, err)
		assert.True(t, cert.Equal(caCert))
	})

	t.Run("two certificates", func(t *testing.T) {
		otherPEM, _, _ := generateTestCA(t)
		_, err := ws.ParseCertificate(append(append([]byte{}, caPEM...), otherPEM...))
		assert.ErrorIs(t, err, ws.ErrCertificate)
	})

	t.Run("private key block", func(t *testing.T) {
		keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: []byte{1, 2, 3}})
		_, err := ws.ParseCertificate(keyPEM)
		assert.ErrorIs(t, err, ws.ErrCertificate)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ws.ParseCertificate([]byte("not a certificate"))
		assert.ErrorIs(t, err, ws.ErrCertificate)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := ws.ParseCertificate(nil)
		assert.ErrorIs(t, err, ws.ErrCertificate)
	})
}

func TestLoadPinnedCA(t *testing.T) {
	caPEM, caCert, _ := generateTestCA(t)

	t.Run("from fs", func(t *testing.T) {
		loader := ws.FSLoader{FS: fstest.MapFS{"certs/ca.crt": {Data: caPEM}}}

		cert, err := ws.LoadPinnedCA(loader, "certs/ca.crt")
		require.NoError(t, err)
		assert.True(t, cert.Equal(caCert))
	})

	t.Run("from env", func(t *testing.T) {
		loader := ws.EnvLoader{Lookup: func(key string) (string, bool) {
			if key != "PINNED_CA" {
				return "", false
			}
			return base64.StdEncoding.EncodeToString(caPEM), true
		}}

		cert, err := ws.LoadPinnedCA(loader, "PINNED_CA")
		require.NoError(t, err)
		assert.True(t, cert.Equal(caCert))

		_, err = ws.LoadPinnedCA(loader, "OTHER")
		assert.ErrorIs(t, err, ws.ErrResourceUnavailable)
	})

	t.Run("missing resource", func(t *testing.T) {
		_, err := ws.LoadPinnedCA(ws.BytesLoader{}, "ca.crt")
		assert.ErrorIs(t, err, ws.ErrResourceUnavailable)

		_, err = ws.LoadPinnedCA(ws.FSLoader{FS: fstest.MapFS{}}, "ca.crt")
		assert.ErrorIs(t, err, ws.ErrResourceUnavailable)

		_, err = ws.LoadPinnedCA(nil, "ca.crt")
		assert.ErrorIs(t, err, ws.ErrResourceUnavailable)
	})

	t.Run("loader error is wrapped", func(t *testing.T) {
		_, err := ws.LoadPinnedCA(failingLoader{}, "ca.crt")
		assert.ErrorIs(t, err, ws.ErrResourceUnavailable)
		assert.ErrorIs(t, err, errAssetStore)
	})

	t.Run("malformed resource", func(t *testing.T) {
		_, err := ws.LoadPinnedCA(ws.BytesLoader{"ca.crt": []byte("junk")}, "ca.crt")
		assert.ErrorIs(t, err, ws.ErrCertificate)
	})
}

var errAssetStore = errors.New("asset store offline")

type failingLoader struct{}

func (failingLoader) Load(string) ([]byte, error) {
	return nil, errAssetStore
}

func TestNewPinnedTLSConfig(t *testing.T) {
	_, caCert, caKey := generateTestCA(t)
	_, otherCA, otherKey := generateTestCA(t)

	cfg := ws.NewPinnedTLSConfig(caCert, "example.test")
	assert.Equal(t, "example.test", cfg.ServerName)
	assert.False(t, cfg.InsecureSkipVerify)

	opts := x509.VerifyOptions{
		DNSName: "example.test",
		Roots:   cfg.RootCAs,
	}

	trusted := generateServerCert(t, "example.test", caCert, caKey)
	_, err := trusted.Verify(opts)
	assert.NoError(t, err)

	// цепочка от другого CA не проходит, даже если он валиден
	foreign := generateServerCert(t, "example.test", otherCA, otherKey)
	_, err = foreign.Verify(opts)
	assert.Error(t, err)
}
