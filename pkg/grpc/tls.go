package grpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"

	"github.com/eclipse-ankaios/ankaios-go/pkg/config"
)

// ServerTLSConfig builds the server's mutual-TLS configuration. Client
// certificates are required and verified against the CA; the
// certificate CN becomes the agent name.
func ServerTLSConfig(cfg config.TLS) (*tls.Config, error) {
	cert, pool, err := loadMaterial(cfg)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// ClientTLSConfig builds the agent/CLI side configuration.
func ClientTLSConfig(cfg config.TLS) (*tls.Config, error) {
	cert, pool, err := loadMaterial(cfg)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS13,
	}, nil
}

func loadMaterial(cfg config.TLS) (tls.Certificate, *x509.CertPool, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CrtPem, cfg.KeyPem)
	if err != nil {
		return tls.Certificate{}, nil, fmt.Errorf("failed to load certificate: %w", err)
	}
	caPem, err := os.ReadFile(cfg.CAPem)
	if err != nil {
		return tls.Certificate{}, nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPem) {
		return tls.Certificate{}, nil, fmt.Errorf("no CA certificate found in %s", cfg.CAPem)
	}
	return cert, pool, nil
}

// peerCommonName extracts the client certificate CN from the stream
// context. Empty when the connection is not mutually authenticated.
func peerCommonName(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok {
		return ""
	}
	tlsInfo, ok := p.AuthInfo.(credentials.TLSInfo)
	if !ok {
		return ""
	}
	if len(tlsInfo.State.PeerCertificates) == 0 {
		return ""
	}
	return tlsInfo.State.PeerCertificates[0].Subject.CommonName
}
