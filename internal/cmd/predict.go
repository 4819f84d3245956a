package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/3leaps/inventoryctl/pkg/apiclient"
)

var predictCmd = &cobra.Command{
	Use:   "predict <product_id>",
	Short: "Request a demand forecast for a product",
	Long: `Start a demand prediction job for a product of the active company.
The forecast covers the next 90 days and includes a stock recommendation.

With --watch the command waits for the job and prints the forecast summary;
-o json includes the full forecast payload.`,
	Args: cobra.ExactArgs(1),
	RunE: runPredict,
}

var (
	predictWatch       bool
	predictMetricsAddr string
)

func init() {
	rootCmd.AddCommand(predictCmd)

	predictCmd.Flags().BoolVarP(&predictWatch, "watch", "w", false, "Follow the prediction job until it finishes")
	predictCmd.Flags().StringVar(&predictMetricsAddr, "metrics-addr", "", "With --watch, serve Prometheus metrics on this address")
}

func runPredict(cmd *cobra.Command, args []string) error {
	productID, err := parseID("product id", args[0])
	if err != nil {
		return err
	}

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

	trigger := func(ctx context.Context) (*apiclient.JobSubmission, error) {
		sub, err := a.client.TriggerPrediction(ctx, productID)
		if err != nil {
			return nil, apiFailure("Failed to start prediction", err)
		}
		return sub, nil
	}

	if !predictWatch {
		sub, err := trigger(ctx)
		if err != nil {
			return err
		}
		return a.printer.Message("Prediction job %d %s", sub.JobID, sub.Status)
	}

	w, err := a.newWatcher(cmd, "predict", companyID, predictMetricsAddr)
	if err != nil {
		return err
	}
	defer w.close()

	if _, err := w.submit(ctx, kindPrediction, trigger); err != nil {
		return err
	}
	return w.run(ctx)
}
