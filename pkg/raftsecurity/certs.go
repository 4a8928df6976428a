package raftsecurity

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

// SaveCertToFile writes cert's certificate and RSA private key as PEM
// files under dir, named node.crt/node.key.
func SaveCertToFile(cert *tls.Certificate, dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("raftsecurity: create cert directory: %w", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Certificate[0]})
	if err := os.WriteFile(filepath.Join(dir, "node.crt"), certPEM, 0600); err != nil {
		return fmt.Errorf("raftsecurity: write certificate: %w", err)
	}
	key, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return fmt.Errorf("raftsecurity: private key is not RSA")
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(filepath.Join(dir, "node.key"), keyPEM, 0600); err != nil {
		return fmt.Errorf("raftsecurity: write private key: %w", err)
	}
	return nil
}

// LoadCertFromFile loads a certificate/key pair previously written by
// SaveCertToFile.
func LoadCertFromFile(dir string) (*tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(filepath.Join(dir, "node.crt"), filepath.Join(dir, "node.key"))
	if err != nil {
		return nil, fmt.Errorf("raftsecurity: load certificate: %w", err)
	}
	if cert.Leaf == nil {
		leaf, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("raftsecurity: parse certificate: %w", err)
		}
		cert.Leaf = leaf
	}
	return &cert, nil
}

// SaveCAToFile persists the root CA's DER certificate and key under dir.
func SaveCAToFile(ca *CertAuthority, dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("raftsecurity: create CA directory: %w", err)
	}
	certDER, keyDER := ca.Export()
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	if err := os.WriteFile(filepath.Join(dir, "ca.crt"), certPEM, 0644); err != nil {
		return fmt.Errorf("raftsecurity: write CA certificate: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(filepath.Join(dir, "ca.key"), keyPEM, 0600); err != nil {
		return fmt.Errorf("raftsecurity: write CA key: %w", err)
	}
	return nil
}

// LoadCAFromFile reconstructs a CertAuthority from files written by
// SaveCAToFile.
func LoadCAFromFile(dir string) (*CertAuthority, error) {
	certPEM, err := os.ReadFile(filepath.Join(dir, "ca.crt"))
	if err != nil {
		return nil, fmt.Errorf("raftsecurity: read CA certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(filepath.Join(dir, "ca.key"))
	if err != nil {
		return nil, fmt.Errorf("raftsecurity: read CA key: %w", err)
	}
	certBlock, _ := pem.Decode(certPEM)
	keyBlock, _ := pem.Decode(keyPEM)
	if certBlock == nil || keyBlock == nil {
		return nil, fmt.Errorf("raftsecurity: malformed CA PEM files in %s", dir)
	}
	return ImportCertAuthority(certBlock.Bytes, keyBlock.Bytes)
}

// ServerTLSConfig builds a tls.Config for a grpctransport listener: it
// presents cert and requires and verifies peer certificates against the
// cluster CA (true mutual TLS, unlike the teacher's request-but-don't-
// require posture, since every raftsim peer is itself a cluster member).
func ServerTLSConfig(cert *tls.Certificate, ca *CertAuthority) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{*cert},
		ClientCAs:    ca.RootCertPool(),
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS13,
	}
}

// ClientTLSConfig builds a tls.Config for dialing a peer: it presents
// cert for mTLS and verifies the peer's certificate against the cluster
// CA.
func ClientTLSConfig(cert *tls.Certificate, ca *CertAuthority) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{*cert},
		RootCAs:      ca.RootCertPool(),
		MinVersion:   tls.VersionTLS13,
	}
}
