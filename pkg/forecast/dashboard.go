package forecast

// ProductDashboard is the per-product analytics view.
type ProductDashboard struct {
	ProductID          int64             `json:"product_id"`
	ProductSKU         string            `json:"product_sku"`
	ProductName        string            `json:"product_name"`
	KPIs               DashboardKPIs     `json:"kpis"`
	ChartData          []ChartDataPoint  `json:"chart_data"`
	InfluencingFactors map[string]string `json:"influencing_factors"`
}

type DashboardKPIs struct {
	ModelAccuracyPercent float64  `json:"model_accuracy_percent"`
	TotalForecast30d     int      `json:"total_forecast_30d"`
	AvgDailyDemand30d    float64  `json:"avg_daily_demand_30d"`
	StockCoverageDays    *float64 `json:"stock_coverage_days,omitempty"`
}

// ChartDataPoint carries actual sales for history and predictions with a
// confidence band; any value may be absent for a given day.
type ChartDataPoint struct {
	Date          string   `json:"date"`
	ActualSales   *float64 `json:"actual_sales,omitempty"`
	Prediction    *float64 `json:"prediction,omitempty"`
	ConfidenceMin *float64 `json:"confidence_min,omitempty"`
	ConfidenceMax *float64 `json:"confidence_max,omitempty"`
}
