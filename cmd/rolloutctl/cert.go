package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/rollout/pkg/security"
	"github.com/cuemby/rollout/pkg/types"
	"github.com/juju/clock"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var certCmd = &cobra.Command{
	Use:   "cert",
	Short: "Inspect and issue cluster certificates",
}

var certInspectCmd = &cobra.Command{
	Use:   "inspect FILE",
	Short: "Describe the certificates of a PEM file",
	Long: `Describe the certificates of a PEM file, leaf first. The output includes
the certificate description and common name entries to use in a cluster
definition.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		certs, err := security.LoadCertificates(args[0])
		if err != nil {
			return err
		}

		enc := yaml.NewEncoder(os.Stdout)
		defer enc.Close()
		for i, cert := range certs {
			info := security.Inspect(cert, certs[i+1:]...)
			if err := enc.Encode(info); err != nil {
				return err
			}
			if security.CertNeedsRotation(cert, time.Now()) {
				fmt.Fprintf(os.Stderr, "warning: %s expires %s\n", info.Thumbprint, info.NotAfter.Format(time.RFC3339))
			}
		}

		leaf := security.Inspect(certs[0], certs[1:]...)
		return enc.Encode(types.CertificateInformation{
			ClusterCertificate: security.Description(certs[0], nil),
			ClusterCertificateCommonNames: &types.ServerCertificateCommonNames{
				CommonNames: []types.CertificateCommonNameBase{security.CommonName(leaf)},
			},
		})
	},
}

var certIssueCmd = &cobra.Command{
	Use:   "issue COMMON_NAME",
	Short: "Issue a cluster certificate from a new development CA",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		outDir, _ := cmd.Flags().GetString("out")
		validity, _ := cmd.Flags().GetDuration("validity")

		ca := security.NewCertAuthority("Rollout Development CA", clock.WallClock)
		if err := ca.Initialize(); err != nil {
			return err
		}
		issued, err := ca.IssueClusterCertificate(args[0], validity)
		if err != nil {
			return err
		}

		if err := os.MkdirAll(outDir, 0700); err != nil {
			return fmt.Errorf("failed to create output directory: %v", err)
		}
		files := []struct {
			name string
			data []byte
			mode os.FileMode
		}{
			{"ca.pem", ca.RootPEM(), 0644},
			{"cluster.pem", issued.CertPEM, 0644},
			{"cluster-key.pem", issued.KeyPEM, 0600},
		}
		for _, f := range files {
			if err := os.WriteFile(filepath.Join(outDir, f.name), f.data, f.mode); err != nil {
				return fmt.Errorf("failed to write %s: %v", f.name, err)
			}
		}

		fmt.Printf("✓ Certificate issued for %s\n", args[0])
		fmt.Printf("  Thumbprint: %s\n", security.Thumbprint(issued.Cert))
		fmt.Printf("  Issuer:     %s\n", security.Thumbprint(ca.RootCert()))
		fmt.Printf("  Expires:    %s\n", issued.Cert.NotAfter.Format(time.RFC3339))
		fmt.Printf("  Files:      %s\n", outDir)
		return nil
	},
}

func init() {
	certCmd.AddCommand(certInspectCmd)
	certCmd.AddCommand(certIssueCmd)

	certIssueCmd.Flags().String("out", "./certs", "Directory the PEM files are written to")
	certIssueCmd.Flags().Duration("validity", security.DefaultClusterCertValidity, "Certificate validity")

	rootCmd.AddCommand(certCmd)
}
