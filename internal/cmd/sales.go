package cmd

import (
	"context"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/inventoryctl/pkg/apiclient"
	"github.com/3leaps/inventoryctl/pkg/source"
)

var salesCmd = &cobra.Command{
	Use:   "sales",
	Short: "Work with sales history",
}

var salesImportCmd = &cobra.Command{
	Use:   "import <input>...",
	Short: "Upload sales CSV files for import",
	Long: `Upload sales CSV files. Each file becomes one import job on the server.

An input is a local path, a glob (** matches across directories), or an S3
object or glob. S3 access follows the s3.* config and the standard AWS
credential chain.

Examples:
  inventoryctl sales import sales-2024.csv
  inventoryctl sales import 'exports/**/*.csv' --watch
  inventoryctl sales import 's3://acme-exports/sales/2024-*/*.csv' --watch`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSalesImport,
}

var (
	salesWatch       bool
	salesMetricsAddr string
)

func init() {
	rootCmd.AddCommand(salesCmd)
	salesCmd.AddCommand(salesImportCmd)

	salesImportCmd.Flags().BoolVarP(&salesWatch, "watch", "w", false, "Follow the import jobs until they finish")
	salesImportCmd.Flags().StringVar(&salesMetricsAddr, "metrics-addr", "", "With --watch, serve Prometheus metrics on this address")
}

func runSalesImport(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	companyID, err := a.requireCompany()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	resolver := source.NewResolver(source.WithS3Config(a.cfg.S3), source.WithLogger(a.logger))
	inputs, err := resolver.Resolve(ctx, args)
	if err != nil {
		switch {
		case source.IsNotFound(err):
			return exitError(foundry.ExitFileNotFound, "Input not found", err)
		case source.IsAccessDenied(err):
			return exitError(foundry.ExitFileReadError, "Input not readable", err)
		default:
			return exitError(foundry.ExitInvalidArgument, "Invalid input", err)
		}
	}
	a.logger.Info("Resolved sales inputs", zap.Int("files", len(inputs)))

	if !salesWatch {
		for _, in := range inputs {
			sub, err := uploadInput(ctx, a.client, in)
			if err != nil {
				return err
			}
			if err := a.printer.Message("%s: job %d %s", in.Name, sub.JobID, sub.Status); err != nil {
				return err
			}
		}
		return nil
	}

	w, err := a.newWatcher(cmd, "sales import", companyID, salesMetricsAddr)
	if err != nil {
		return err
	}
	defer w.close()

	for _, in := range inputs {
		sub, err := w.submit(ctx, kindImport, func(ctx context.Context) (*apiclient.JobSubmission, error) {
			return uploadInput(ctx, a.client, in)
		})
		if err != nil {
			return err
		}
		a.logger.Info("Import job accepted",
			zap.String("file", in.Location),
			zap.Int64("job_id", sub.JobID))
	}
	return w.run(ctx)
}

// uploadInput streams one resolved input to the import endpoint.
func uploadInput(ctx context.Context, client *apiclient.Client, in source.Input) (*apiclient.JobSubmission, error) {
	rc, err := in.Open(ctx)
	if err != nil {
		return nil, exitError(foundry.ExitFileReadError, "Failed to open "+in.Location, err)
	}
	defer func() { _ = rc.Close() }()

	sub, err := client.UploadSales(ctx, in.Name, rc)
	if err != nil {
		return nil, apiFailure(fmt.Sprintf("Failed to upload %s", in.Location), err)
	}
	return sub, nil
}
