package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"grimm.is/tether/internal/host"
	"grimm.is/tether/internal/logging"
	"grimm.is/tether/internal/pki"
)

func newCertCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "cert",
		Short: "Manage the secure listener's self-signed certificate",
	}
	c.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the certificate, generating it if absent",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				mgr := host.NewCertManager(cfg, logging.Discard())
				mat, err := mgr.Ensure(cmd.Context())
				if err != nil {
					return err
				}
				printMaterial(cmd.OutOrStdout(), mat)
				return nil
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Delete the certificate so the next start generates a new one",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				mgr := host.NewCertManager(cfg, logging.Discard())
				if err := mgr.Reset(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s and %s\n", mgr.CertPath(), mgr.KeyPath())
				fmt.Fprintln(cmd.OutOrStdout(), "Extensions must accept the new certificate after the next start.")
				return nil
			},
		},
	)
	return c
}

func printMaterial(out io.Writer, mat *pki.Material) {
	fmt.Fprintf(out, "Certificate: %s\n", mat.CertPath)
	fmt.Fprintf(out, "Key:         %s\n", mat.KeyPath)
	fmt.Fprintf(out, "Fingerprint: %s\n", mat.Fingerprint)
	if mat.Leaf != nil {
		fmt.Fprintf(out, "Subject:     %s\n", mat.Leaf.Subject.CommonName)
		fmt.Fprintf(out, "Not after:   %s\n", mat.Leaf.NotAfter.Format(time.RFC3339))
	}
	if mat.Generated {
		fmt.Fprintf(out, "Generated:   yes (%s)\n", mat.Generator)
	}
}
