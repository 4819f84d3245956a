// Package forecast holds the typed payloads produced by server-side jobs and
// the product dashboard.
package forecast

import (
	"errors"
	"fmt"
)

// ErrInvalidPrediction indicates a prediction payload that decoded but is
// internally inconsistent.
var ErrInvalidPrediction = errors.New("invalid prediction payload")

// Prediction is the SUCCESS payload of a demand prediction job.
type Prediction struct {
	Forecast          Forecast          `json:"forecast_90_days"`
	StockOptimization StockOptimization `json:"stock_optimization"`
}

// Forecast is a daily demand series. Dates and PredictedDemand are parallel.
type Forecast struct {
	Dates           []string  `json:"dates"`
	PredictedDemand []float64 `json:"predicted_demand"`
}

type StockOptimization struct {
	ServiceLevelPercent    float64       `json:"service_level_percent"`
	RecommendedSafetyStock float64       `json:"recommended_safety_stock"`
	ReorderPoint           float64       `json:"reorder_point"`
	InputsSummary          InputsSummary `json:"inputs_summary"`
}

type InputsSummary struct {
	AvgDailyDemandForecast float64 `json:"avg_daily_demand_forecast"`
	ModelErrorStdDev       float64 `json:"model_error_std_dev"`
	LeadTimeDays           float64 `json:"lead_time_days"`
}

// Point is one day of forecast demand.
type Point struct {
	Date   string  `json:"date"`
	Demand float64 `json:"demand"`
}

// Validate checks the forecast series is well formed.
func (p *Prediction) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: empty", ErrInvalidPrediction)
	}
	if len(p.Forecast.Dates) == 0 {
		return fmt.Errorf("%w: forecast has no dates", ErrInvalidPrediction)
	}
	if len(p.Forecast.Dates) != len(p.Forecast.PredictedDemand) {
		return fmt.Errorf("%w: %d dates but %d demand values",
			ErrInvalidPrediction, len(p.Forecast.Dates), len(p.Forecast.PredictedDemand))
	}
	return nil
}

// Points zips the forecast series. Call Validate first; extra values on
// either side are ignored.
func (p *Prediction) Points() []Point {
	n := min(len(p.Forecast.Dates), len(p.Forecast.PredictedDemand))
	out := make([]Point, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Point{Date: p.Forecast.Dates[i], Demand: p.Forecast.PredictedDemand[i]})
	}
	return out
}

// TotalDemand sums the forecast over its horizon.
func (p *Prediction) TotalDemand() float64 {
	var total float64
	for _, v := range p.Forecast.PredictedDemand {
		total += v
	}
	return total
}
