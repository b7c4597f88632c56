package ws

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"
)

// LoadPinnedCA загружает единственный CA сертификат, которому будет доверять клиент.
func LoadPinnedCA(loader ResourceLoader, name string) (*x509.Certificate, error) {
	if loader == nil {
		return nil, fmt.Errorf("%w: %s: no resource loader", ErrResourceUnavailable, name)
	}

	raw, err := loader.Load(name)
	if err != nil {
		if errors.Is(err, ErrResourceUnavailable) {
			return nil, err
		}

		return nil, fmt.Errorf("%w: %s: %w", ErrResourceUnavailable, name, err)
	}

	cert, err := ParseCertificate(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	return cert, nil
}

// ParseCertificate принимает ровно один сертификат в PEM или DER.
func ParseCertificate(raw []byte) (*x509.Certificate, error) {
	der := raw

	if block, rest := pem.Decode(raw); block != nil {
		if block.Type != "CERTIFICATE" {
			return nil, fmt.Errorf("%w: unexpected PEM block %q", ErrCertificate, block.Type)
		}

		if next, _ := pem.Decode(rest); next != nil {
			return nil, fmt.Errorf("%w: expected a single certificate", ErrCertificate)
		}

		der = block.Bytes
	}

	if len(der) == 0 {
		return nil, fmt.Errorf("%w: empty certificate", ErrCertificate)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCertificate, err)
	}

	return cert, nil
}

// NewPinnedTLSConfig строит конфигурацию, в которой единственный корень
// доверия - ca. Системное хранилище сертификатов не используется.
func NewPinnedTLSConfig(ca *x509.Certificate, serverName string) *tls.Config {
	pool := x509.NewCertPool()
	pool.AddCert(ca)

	return &tls.Config{
		RootCAs:    pool,
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}
}

type expiryStatus int

const (
	expiryOK expiryStatus = iota
	expirySoon
	expiryPassed
)

func checkExpiry(cert *x509.Certificate, now time.Time, window time.Duration) expiryStatus {
	switch {
	case now.After(cert.NotAfter):
		return expiryPassed
	case window > 0 && cert.NotAfter.Sub(now) < window:
		return expirySoon
	default:
		return expiryOK
	}
}
