/*
Package security inspects and issues the X.509 certificates clusters are
secured with.

Cluster definitions refer to the cluster certificate either by thumbprint
(upper case hex SHA-1 of the DER encoding) or by subject common name pinned to
issuer thumbprints. Inspect derives both forms from a PEM file:

	certs, err := security.LoadCertificates("cluster.pem")
	info := security.Inspect(certs[0], certs[1:]...)
	desc := security.Description(certs[0], nil)
	cn := security.CommonName(info)

CertAuthority issues certificates for development and test clusters.
*/
package security
