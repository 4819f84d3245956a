package cmd

import (
	"errors"
	"fmt"
	"sort"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/inventoryctl/pkg/apiclient"
	"github.com/3leaps/inventoryctl/pkg/output"
)

var productCmd = &cobra.Command{
	Use:   "product",
	Short: "Manage the active company's products",
}

var productListCmd = &cobra.Command{
	Use:   "list",
	Short: "List products",
	Args:  cobra.NoArgs,
	RunE:  runProductList,
}

var productCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a product",
	Long: `Create a product. SKUs are unique within a company.

Examples:
  inventoryctl product create --sku TSHIRT-RED-M --name "Red T-Shirt (M)"`,
	Args: cobra.NoArgs,
	RunE: runProductCreate,
}

var productUpdateCmd = &cobra.Command{
	Use:   "update <product_id>",
	Short: "Update a product; only the given fields change",
	Args:  cobra.ExactArgs(1),
	RunE:  runProductUpdate,
}

var productDeleteCmd = &cobra.Command{
	Use:   "delete <product_id>",
	Short: "Delete a product",
	Args:  cobra.ExactArgs(1),
	RunE:  runProductDelete,
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard <product_id>",
	Short: "Show a product's forecast KPIs",
	Args:  cobra.ExactArgs(1),
	RunE:  runDashboard,
}

var (
	productSKU         string
	productName        string
	productDescription string
)

func init() {
	rootCmd.AddCommand(productCmd, dashboardCmd)
	productCmd.AddCommand(productListCmd, productCreateCmd, productUpdateCmd, productDeleteCmd)

	for _, c := range []*cobra.Command{productCreateCmd, productUpdateCmd} {
		c.Flags().StringVar(&productSKU, "sku", "", "Stock keeping unit")
		c.Flags().StringVar(&productName, "name", "", "Display name")
		c.Flags().StringVar(&productDescription, "description", "", "Free-text description")
	}
	_ = productCreateCmd.MarkFlagRequired("sku")
	_ = productCreateCmd.MarkFlagRequired("name")
}

func productTable(ps []apiclient.Product) func() output.Table {
	return func() output.Table {
		t := output.Table{Header: []string{"id", "sku", "name", "description"}}
		for _, p := range ps {
			desc := ""
			if p.Description != nil {
				desc = *p.Description
			}
			t.AddRow(p.ID, p.SKU, p.Name, desc)
		}
		return t
	}
}

func runProductList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if _, err := a.requireCompany(); err != nil {
		return err
	}
	products, err := a.client.ListProducts(cmd.Context())
	if err != nil {
		return apiFailure("Failed to list products", err)
	}
	if products == nil {
		products = []apiclient.Product{}
	}
	return a.printer.Print(products, productTable(products))
}

func runProductCreate(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if _, err := a.requireCompany(); err != nil {
		return err
	}
	in := apiclient.ProductCreate{SKU: productSKU, Name: productName}
	if cmd.Flags().Changed("description") {
		in.Description = &productDescription
	}
	p, err := a.client.CreateProduct(cmd.Context(), in)
	if err != nil {
		return requestFailure("Failed to create product", err)
	}
	return a.printer.Print(p, productTable([]apiclient.Product{*p}))
}

func runProductUpdate(cmd *cobra.Command, args []string) error {
	id, err := parseID("product id", args[0])
	if err != nil {
		return err
	}

	var in apiclient.ProductUpdate
	flags := cmd.Flags()
	if flags.Changed("sku") {
		in.SKU = &productSKU
	}
	if flags.Changed("name") {
		in.Name = &productName
	}
	if flags.Changed("description") {
		in.Description = &productDescription
	}
	if in.Empty() {
		return exitError(foundry.ExitInvalidArgument, "Nothing to update", errors.New("pass at least one of --sku, --name, --description"))
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if _, err := a.requireCompany(); err != nil {
		return err
	}
	p, err := a.client.UpdateProduct(cmd.Context(), id, in)
	if err != nil {
		return requestFailure("Failed to update product", err)
	}
	return a.printer.Print(p, productTable([]apiclient.Product{*p}))
}

func runProductDelete(cmd *cobra.Command, args []string) error {
	id, err := parseID("product id", args[0])
	if err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if _, err := a.requireCompany(); err != nil {
		return err
	}
	if err := a.client.DeleteProduct(cmd.Context(), id); err != nil {
		return apiFailure("Failed to delete product", err)
	}
	return a.printer.Message("Product %d deleted.", id)
}

func runDashboard(cmd *cobra.Command, args []string) error {
	id, err := parseID("product id", args[0])
	if err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if _, err := a.requireCompany(); err != nil {
		return err
	}
	d, err := a.client.ProductDashboard(cmd.Context(), id)
	if err != nil {
		return apiFailure("Failed to load dashboard", err)
	}

	return a.printer.Print(d, func() output.Table {
		t := output.Table{Header: []string{"metric", "value"}}
		t.AddRow("product", fmt.Sprintf("%s (%s)", d.ProductName, d.ProductSKU))
		t.AddRow("model accuracy", fmt.Sprintf("%.1f%%", d.KPIs.ModelAccuracyPercent))
		t.AddRow("forecast, next 30 days", d.KPIs.TotalForecast30d)
		t.AddRow("avg daily demand", fmt.Sprintf("%.2f", d.KPIs.AvgDailyDemand30d))
		if d.KPIs.StockCoverageDays != nil {
			t.AddRow("stock coverage", fmt.Sprintf("%.1f days", *d.KPIs.StockCoverageDays))
		}
		t.AddRow("chart points", len(d.ChartData))

		factors := make([]string, 0, len(d.InfluencingFactors))
		for k := range d.InfluencingFactors {
			factors = append(factors, k)
		}
		sort.Strings(factors)
		for _, k := range factors {
			t.AddRow(k, d.InfluencingFactors[k])
		}
		return t
	})
}
