package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
)

const (
	rootCAValidity = 10 * 365 * 24 * time.Hour
	// DefaultClusterCertValidity is the validity of issued cluster certificates
	DefaultClusterCertValidity = 365 * 24 * time.Hour

	rootKeySize    = 4096
	clusterKeySize = 2048
)

// CertAuthority issues cluster certificates for development and test
// clusters. Production clusters bring certificates from their own PKI.
type CertAuthority struct {
	commonName string
	clock      clock.Clock
	keySize    int

	mu       sync.RWMutex
	rootCert *x509.Certificate
	rootKey  *rsa.PrivateKey
}

// IssuedCertificate is a certificate with its PEM encoded key
type IssuedCertificate struct {
	Cert    *x509.Certificate
	CertPEM []byte
	KeyPEM  []byte
}

// NewCertAuthority creates a certificate authority with the given subject
func NewCertAuthority(commonName string, clk clock.Clock) *CertAuthority {
	return &CertAuthority{
		commonName: commonName,
		clock:      clk,
		keySize:    rootKeySize,
	}
}

// Initialize generates the self-signed root certificate
func (ca *CertAuthority) Initialize() error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	rootKey, err := rsa.GenerateKey(rand.Reader, ca.keySize)
	if err != nil {
		return errors.Annotate(err, "generating root key")
	}
	serial, err := serialNumber()
	if err != nil {
		return err
	}

	now := ca.clock.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"Rollout"}, CommonName: ca.commonName},
		NotBefore:             now,
		NotAfter:              now.Add(rootCAValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
		MaxPathLen:            1,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &rootKey.PublicKey, rootKey)
	if err != nil {
		return errors.Annotate(err, "creating root certificate")
	}
	rootCert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return errors.Annotate(err, "parsing root certificate")
	}

	ca.rootCert = rootCert
	ca.rootKey = rootKey
	return nil
}

// IsInitialized returns true if the root certificate exists
func (ca *CertAuthority) IsInitialized() bool {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	return ca.rootCert != nil
}

// RootCert returns the root certificate
func (ca *CertAuthority) RootCert() *x509.Certificate {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	return ca.rootCert
}

// RootPEM returns the PEM encoded root certificate
func (ca *CertAuthority) RootPEM() []byte {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	if ca.rootCert == nil {
		return nil
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ca.rootCert.Raw})
}

// IssueClusterCertificate issues a server and client certificate with the
// given subject common name
func (ca *CertAuthority) IssueClusterCertificate(commonName string, validity time.Duration) (*IssuedCertificate, error) {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil || ca.rootKey == nil {
		return nil, errors.NotValidf("uninitialized certificate authority")
	}
	if commonName == "" {
		return nil, errors.NotValidf("empty common name")
	}
	if validity <= 0 {
		validity = DefaultClusterCertValidity
	}

	key, err := rsa.GenerateKey(rand.Reader, clusterKeySize)
	if err != nil {
		return nil, errors.Annotate(err, "generating key")
	}
	serial, err := serialNumber()
	if err != nil {
		return nil, err
	}

	now := ca.clock.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{Organization: []string{"Rollout"}, CommonName: commonName},
		NotBefore:    now,
		NotAfter:     now.Add(validity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{commonName},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, ca.rootCert, &key.PublicKey, ca.rootKey)
	if err != nil {
		return nil, errors.Annotate(err, "creating cluster certificate")
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, errors.Annotate(err, "parsing cluster certificate")
	}

	return &IssuedCertificate{
		Cert:    cert,
		CertPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}),
		KeyPEM:  pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}),
	}, nil
}

func serialNumber() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, errors.Annotate(err, "generating serial number")
	}
	return serial, nil
}
