package types

import (
	"sort"
	"strings"
)

// Security holds the cluster security settings of a user configuration
type Security struct {
	ClusterCredentialType  string                 `json:"clusterCredentialType" yaml:"clusterCredentialType"`
	CertificateInformation CertificateInformation `json:"certificateInformation" yaml:"certificateInformation"`
}

// CertificateInformation holds the cluster certificate in either (or both) of its forms
type CertificateInformation struct {
	ClusterCertificate            *CertificateDescription       `json:"clusterCertificate,omitempty" yaml:"clusterCertificate,omitempty"`
	ClusterCertificateCommonNames *ServerCertificateCommonNames `json:"clusterCertificateCommonNames,omitempty" yaml:"clusterCertificateCommonNames,omitempty"`
}

// CertificateDescription identifies up to two certificates by thumbprint
type CertificateDescription struct {
	Thumbprint          string `json:"thumbprint" yaml:"thumbprint"`
	ThumbprintSecondary string `json:"thumbprintSecondary,omitempty" yaml:"thumbprintSecondary,omitempty"`
	X509StoreName       string `json:"x509StoreName,omitempty" yaml:"x509StoreName,omitempty"`
}

// Thumbprints returns the normalized non-empty thumbprints, primary first
func (c *CertificateDescription) Thumbprints() []string {
	if c == nil {
		return nil
	}
	var out []string
	if t := NormalizeThumbprint(c.Thumbprint); t != "" {
		out = append(out, t)
	}
	if t := NormalizeThumbprint(c.ThumbprintSecondary); t != "" && (len(out) == 0 || out[0] != t) {
		out = append(out, t)
	}
	return out
}

// Clone returns a copy of the description
func (c *CertificateDescription) Clone() *CertificateDescription {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// CertificateCommonNameBase identifies a certificate by subject common name
// pinned to a comma separated list of issuer thumbprints
type CertificateCommonNameBase struct {
	CertificateCommonName       string `json:"certificateCommonName" yaml:"certificateCommonName"`
	CertificateIssuerThumbprint string `json:"certificateIssuerThumbprint,omitempty" yaml:"certificateIssuerThumbprint,omitempty"`
}

// IssuerThumbprints splits and normalizes the issuer thumbprint list
func (c CertificateCommonNameBase) IssuerThumbprints() []string {
	var out []string
	for _, t := range strings.Split(c.CertificateIssuerThumbprint, ",") {
		if t = NormalizeThumbprint(t); t != "" {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// ServerCertificateCommonNames is an ordered list of common name certificates
type ServerCertificateCommonNames struct {
	CommonNames   []CertificateCommonNameBase `json:"commonNames" yaml:"commonNames"`
	X509StoreName string                      `json:"x509StoreName,omitempty" yaml:"x509StoreName,omitempty"`
}

// Names returns the common names in declaration order
func (s *ServerCertificateCommonNames) Names() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.CommonNames))
	for _, cn := range s.CommonNames {
		if cn.CertificateCommonName != "" {
			out = append(out, cn.CertificateCommonName)
		}
	}
	return out
}

// Issuers maps every common name to its sorted issuer thumbprints
func (s *ServerCertificateCommonNames) Issuers() map[string][]string {
	if s == nil {
		return nil
	}
	out := make(map[string][]string, len(s.CommonNames))
	for _, cn := range s.CommonNames {
		if cn.CertificateCommonName == "" {
			continue
		}
		out[cn.CertificateCommonName] = cn.IssuerThumbprints()
	}
	return out
}

// Len returns the number of common names
func (s *ServerCertificateCommonNames) Len() int {
	if s == nil {
		return 0
	}
	return len(s.CommonNames)
}

// Clone returns a deep copy of the list
func (s *ServerCertificateCommonNames) Clone() *ServerCertificateCommonNames {
	if s == nil {
		return nil
	}
	return &ServerCertificateCommonNames{
		CommonNames:   append([]CertificateCommonNameBase(nil), s.CommonNames...),
		X509StoreName: s.X509StoreName,
	}
}

// CertificateClusterUpgradeStep is one immutable phase of a certificate rotation plan.
// The white lists are trusted but not necessarily presented, the load lists are the
// certificates nodes present, and the file store lists are the subset the file store
// service authenticates transfers with.
type CertificateClusterUpgradeStep struct {
	ThumbprintWhiteList        []string                      `json:"thumbprintWhiteList" yaml:"thumbprintWhiteList"`
	ThumbprintLoadList         *CertificateDescription       `json:"thumbprintLoadList,omitempty" yaml:"thumbprintLoadList,omitempty"`
	ThumbprintFileStoreSvcList *CertificateDescription       `json:"thumbprintFileStoreSvcList,omitempty" yaml:"thumbprintFileStoreSvcList,omitempty"`
	CommonNameWhiteList        map[string][]string           `json:"commonNameWhiteList,omitempty" yaml:"commonNameWhiteList,omitempty"`
	CommonNameLoadList         *ServerCertificateCommonNames `json:"commonNameLoadList,omitempty" yaml:"commonNameLoadList,omitempty"`
	CommonNameFileStoreSvcList *ServerCertificateCommonNames `json:"commonNameFileStoreSvcList,omitempty" yaml:"commonNameFileStoreSvcList,omitempty"`
}

// Clone returns a deep copy of the step
func (s CertificateClusterUpgradeStep) Clone() CertificateClusterUpgradeStep {
	out := CertificateClusterUpgradeStep{
		ThumbprintWhiteList:        append([]string(nil), s.ThumbprintWhiteList...),
		ThumbprintLoadList:         s.ThumbprintLoadList.Clone(),
		ThumbprintFileStoreSvcList: s.ThumbprintFileStoreSvcList.Clone(),
		CommonNameLoadList:         s.CommonNameLoadList.Clone(),
		CommonNameFileStoreSvcList: s.CommonNameFileStoreSvcList.Clone(),
	}
	if s.CommonNameWhiteList != nil {
		out.CommonNameWhiteList = make(map[string][]string, len(s.CommonNameWhiteList))
		for k, v := range s.CommonNameWhiteList {
			out.CommonNameWhiteList[k] = append([]string(nil), v...)
		}
	}
	return out
}

// NormalizeThumbprint upper-cases a thumbprint and strips separators
func NormalizeThumbprint(t string) string {
	t = strings.TrimSpace(t)
	t = strings.ReplaceAll(t, " ", "")
	t = strings.ReplaceAll(t, ":", "")
	return strings.ToUpper(t)
}
