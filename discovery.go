package mauzr

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/crypto/pkcs12"
)

// SRV service and protocol announcing brokers.
const (
	srvService = "secure-mqtt"
	srvProto   = "tcp"
)

// SRVLookup matches net.Resolver.LookupSRV.
type SRVLookup func(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)

// SRVResolver returns a ServerResolver that looks up _secure-mqtt._tcp.<domain>
// and yields tls:// URLs in the order the resolver sorted them.
func SRVResolver(domain string, lookup SRVLookup) ServerResolver {
	if lookup == nil {
		lookup = net.DefaultResolver.LookupSRV
	}

	return func(ctx context.Context) ([]string, error) {
		_, records, err := lookup(ctx, srvService, srvProto, domain)
		if err != nil {
			return nil, fmt.Errorf("SRV lookup for %s: %w", domain, err)
		}

		servers := make([]string, 0, len(records))
		for _, r := range records {
			host := strings.TrimSuffix(r.Target, ".")
			servers = append(servers, "tls://"+net.JoinHostPort(host, strconv.Itoa(int(r.Port))))
		}
		return servers, nil
	}
}

// LoadTLSConfig builds the client TLS configuration from the CA, Cert and
// Key files of cfg. A Cert ending in .p12 or .pfx is read as a PKCS#12
// bundle decrypted with Password. Empty fields are skipped.
func LoadTLSConfig(cfg Config) (*tls.Config, error) {
	tlsConfig := clientTLSConfig(nil, "")

	if cfg.CA != "" {
		pem, err := os.ReadFile(cfg.CA)
		if err != nil {
			return nil, fmt.Errorf("reading CA: %w", err)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", cfg.CA)
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.Cert == "" {
		return tlsConfig, nil
	}

	var cert tls.Certificate
	var err error
	switch strings.ToLower(filepath.Ext(cfg.Cert)) {
	case ".p12", ".pfx":
		cert, err = loadPKCS12(cfg.Cert, cfg.Password)
	default:
		if cfg.Key == "" {
			return nil, errors.New("key is required with a PEM certificate")
		}
		cert, err = tls.LoadX509KeyPair(cfg.Cert, cfg.Key)
	}
	if err != nil {
		return nil, fmt.Errorf("loading client certificate: %w", err)
	}

	tlsConfig.Certificates = []tls.Certificate{cert}
	return tlsConfig, nil
}

func loadPKCS12(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, err
	}

	key, leaf, err := pkcs12.Decode(data, password)
	if err != nil {
		return tls.Certificate{}, err
	}

	return tls.Certificate{
		Certificate: [][]byte{leaf.Raw},
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}
