// Package raftsecurity issues and verifies the mTLS certificates
// grpctransport uses to authenticate cluster members, adapted from the
// teacher's cluster certificate authority: an RSA root CA self-signs
// itself once, then signs one short-lived leaf certificate per node.
package raftsecurity

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"
)

const (
	// RootCAValidity is how long the self-signed root certificate lasts.
	RootCAValidity = 10 * 365 * 24 * time.Hour
	// NodeCertValidity is how long an issued node certificate lasts
	// before CertAuthority.IssueNodeCertificate must be called again.
	NodeCertValidity = 90 * 24 * time.Hour

	rootKeySize = 4096
	nodeKeySize = 2048
)

// CertAuthority issues and verifies node certificates for one cluster.
// It holds the root key in memory only; callers persist RootCertDER/
// RootKeyDER (see Export/Import) wherever their deployment keeps secrets.
type CertAuthority struct {
	mu       sync.RWMutex
	rootCert *x509.Certificate
	rootKey  *rsa.PrivateKey
}

// NewCertAuthority generates a fresh root CA.
func NewCertAuthority() (*CertAuthority, error) {
	ca := &CertAuthority{}
	if err := ca.generate(); err != nil {
		return nil, err
	}
	return ca, nil
}

func (ca *CertAuthority) generate() error {
	rootKey, err := rsa.GenerateKey(rand.Reader, rootKeySize)
	if err != nil {
		return fmt.Errorf("raftsecurity: generate root key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("raftsecurity: generate serial: %w", err)
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"raftsim cluster"},
			CommonName:   "raftsim root CA",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(RootCAValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
		MaxPathLen:            1,
		MaxPathLenZero:        false,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &rootKey.PublicKey, rootKey)
	if err != nil {
		return fmt.Errorf("raftsecurity: create root certificate: %w", err)
	}
	rootCert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return fmt.Errorf("raftsecurity: parse root certificate: %w", err)
	}

	ca.mu.Lock()
	ca.rootCert, ca.rootKey = rootCert, rootKey
	ca.mu.Unlock()
	return nil
}

// Export returns the DER-encoded root certificate and private key, for a
// caller to persist (e.g. through pkg/raftstore or a file on disk).
func (ca *CertAuthority) Export() (certDER, keyDER []byte) {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	return ca.rootCert.Raw, x509.MarshalPKCS1PrivateKey(ca.rootKey)
}

// ImportCertAuthority rebuilds a CertAuthority from previously exported
// DER material.
func ImportCertAuthority(certDER, keyDER []byte) (*CertAuthority, error) {
	rootCert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("raftsecurity: parse root certificate: %w", err)
	}
	rootKey, err := x509.ParsePKCS1PrivateKey(keyDER)
	if err != nil {
		return nil, fmt.Errorf("raftsecurity: parse root key: %w", err)
	}
	return &CertAuthority{rootCert: rootCert, rootKey: rootKey}, nil
}

// RootCertPool returns an x509.CertPool containing only the root CA
// certificate, suitable as both a server's ClientCAs and a client's
// RootCAs for mTLS verification.
func (ca *CertAuthority) RootCertPool() *x509.CertPool {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	pool := x509.NewCertPool()
	pool.AddCert(ca.rootCert)
	return pool
}

// IssueNodeCertificate signs a leaf certificate for a cluster member,
// valid for both server and client auth so the same certificate secures
// a grpctransport Transport's listener and its outbound dials.
func (ca *CertAuthority) IssueNodeCertificate(nodeID string, dnsNames []string, ipAddresses []net.IP) (*tls.Certificate, error) {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	nodeKey, err := rsa.GenerateKey(rand.Reader, nodeKeySize)
	if err != nil {
		return nil, fmt.Errorf("raftsecurity: generate node key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("raftsecurity: generate serial: %w", err)
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"raftsim cluster"},
			CommonName:   nodeID,
		},
		NotBefore:   time.Now(),
		NotAfter:    time.Now().Add(NodeCertValidity),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		DNSNames:    dnsNames,
		IPAddresses: ipAddresses,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, ca.rootCert, &nodeKey.PublicKey, ca.rootKey)
	if err != nil {
		return nil, fmt.Errorf("raftsecurity: create node certificate: %w", err)
	}
	nodeCert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("raftsecurity: parse node certificate: %w", err)
	}
	return &tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  nodeKey,
		Leaf:        nodeCert,
	}, nil
}

// VerifyCertificate checks cert against the root CA for either client or
// server auth usage.
func (ca *CertAuthority) VerifyCertificate(cert *x509.Certificate) error {
	opts := x509.VerifyOptions{
		Roots:     ca.RootCertPool(),
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
	}
	if _, err := cert.Verify(opts); err != nil {
		return fmt.Errorf("raftsecurity: certificate verification failed: %w", err)
	}
	return nil
}
