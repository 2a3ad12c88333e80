package security

import (
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"os"
	"strings"
	"time"

	"github.com/cuemby/rollout/pkg/types"
	"github.com/juju/errors"
)

// certRotationThreshold is how long before expiry a certificate should be
// replaced
const certRotationThreshold = 30 * 24 * time.Hour

// CertificateInfo describes a certificate the way cluster definitions refer
// to it
type CertificateInfo struct {
	Thumbprint       string    `json:"thumbprint" yaml:"thumbprint"`
	CommonName       string    `json:"commonName" yaml:"commonName"`
	IssuerCommonName string    `json:"issuerCommonName" yaml:"issuerCommonName"`
	IssuerThumbprint string    `json:"issuerThumbprint,omitempty" yaml:"issuerThumbprint,omitempty"`
	NotBefore        time.Time `json:"notBefore" yaml:"notBefore"`
	NotAfter         time.Time `json:"notAfter" yaml:"notAfter"`
	IsCA             bool      `json:"isCA" yaml:"isCA"`
	KeyUsage         []string  `json:"keyUsage,omitempty" yaml:"keyUsage,omitempty"`
	ExtKeyUsage      []string  `json:"extKeyUsage,omitempty" yaml:"extKeyUsage,omitempty"`
}

// LoadCertificates reads every certificate of a PEM file, leaf first
func LoadCertificates(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotatef(err, "reading %s", path)
	}
	return ParseCertificates(data)
}

// ParseCertificates decodes the CERTIFICATE blocks of PEM data. Other blocks,
// such as keys, are skipped.
func ParseCertificates(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, errors.Annotate(err, "parsing certificate")
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, errors.NotFoundf("certificate in PEM data")
	}
	return certs, nil
}

// Thumbprint returns the upper case hex SHA-1 digest of the DER certificate
func Thumbprint(cert *x509.Certificate) string {
	sum := sha1.Sum(cert.Raw)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// Inspect describes cert. chain holds the certificates that may have issued
// it; the issuer thumbprint is set when the issuer is among them.
func Inspect(cert *x509.Certificate, chain ...*x509.Certificate) CertificateInfo {
	info := CertificateInfo{
		Thumbprint:       Thumbprint(cert),
		CommonName:       cert.Subject.CommonName,
		IssuerCommonName: cert.Issuer.CommonName,
		NotBefore:        cert.NotBefore,
		NotAfter:         cert.NotAfter,
		IsCA:             cert.IsCA,
		KeyUsage:         describeKeyUsage(cert.KeyUsage),
		ExtKeyUsage:      describeExtKeyUsage(cert.ExtKeyUsage),
	}
	for _, issuer := range chain {
		if issuer != cert && cert.CheckSignatureFrom(issuer) == nil {
			info.IssuerThumbprint = Thumbprint(issuer)
			break
		}
	}
	return info
}

// Description returns the thumbprint form of the cluster certificate. A
// secondary certificate may be nil.
func Description(primary, secondary *x509.Certificate) *types.CertificateDescription {
	d := &types.CertificateDescription{Thumbprint: Thumbprint(primary)}
	if secondary != nil {
		d.ThumbprintSecondary = Thumbprint(secondary)
	}
	return d
}

// CommonName returns the common name form of the cluster certificate pinned
// to the thumbprints of its possible issuers
func CommonName(info CertificateInfo, issuerThumbprints ...string) types.CertificateCommonNameBase {
	issuers := issuerThumbprints
	if len(issuers) == 0 && info.IssuerThumbprint != "" {
		issuers = []string{info.IssuerThumbprint}
	}
	return types.CertificateCommonNameBase{
		CertificateCommonName:       info.CommonName,
		CertificateIssuerThumbprint: strings.Join(issuers, ","),
	}
}

// CertNeedsRotation returns true when less than 30 days remain until expiry at now
func CertNeedsRotation(cert *x509.Certificate, now time.Time) bool {
	if cert == nil {
		return true
	}
	return cert.NotAfter.Sub(now) < certRotationThreshold
}

// ValidateCertChain validates that a certificate is signed by the CA
func ValidateCertChain(cert, ca *x509.Certificate, now time.Time) error {
	if cert == nil {
		return errors.NotValidf("nil certificate")
	}
	if ca == nil {
		return errors.NotValidf("nil CA certificate")
	}

	roots := x509.NewCertPool()
	roots.AddCert(ca)

	opts := x509.VerifyOptions{
		Roots:       roots,
		CurrentTime: now,
		KeyUsages:   []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
	}
	if _, err := cert.Verify(opts); err != nil {
		return errors.Annotate(err, "verifying certificate")
	}
	return nil
}

func describeKeyUsage(usage x509.KeyUsage) []string {
	var usages []string
	if usage&x509.KeyUsageDigitalSignature != 0 {
		usages = append(usages, "DigitalSignature")
	}
	if usage&x509.KeyUsageKeyEncipherment != 0 {
		usages = append(usages, "KeyEncipherment")
	}
	if usage&x509.KeyUsageCertSign != 0 {
		usages = append(usages, "CertSign")
	}
	if usage&x509.KeyUsageCRLSign != 0 {
		usages = append(usages, "CRLSign")
	}
	return usages
}

func describeExtKeyUsage(usages []x509.ExtKeyUsage) []string {
	var result []string
	for _, usage := range usages {
		switch usage {
		case x509.ExtKeyUsageClientAuth:
			result = append(result, "ClientAuth")
		case x509.ExtKeyUsageServerAuth:
			result = append(result, "ServerAuth")
		}
	}
	return result
}
