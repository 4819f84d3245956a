package forecast

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePrediction = `{
    "forecast_90_days": {
        "dates": ["2026-01-01", "2026-01-02", "2026-01-03"],
        "predicted_demand": [10.5, 12, 9.5]
    },
    "stock_optimization": {
        "service_level_percent": 95,
        "recommended_safety_stock": 14,
        "reorder_point": 80,
        "inputs_summary": {
            "avg_daily_demand_forecast": 10.67,
            "model_error_std_dev": 2.1,
            "lead_time_days": 7
        }
    }
}`

func TestPrediction_DecodeAndValidate(t *testing.T) {
	var p Prediction
	require.NoError(t, json.Unmarshal([]byte(samplePrediction), &p))
	require.NoError(t, p.Validate())

	assert.Equal(t, 80.0, p.StockOptimization.ReorderPoint)
	assert.Equal(t, 7.0, p.StockOptimization.InputsSummary.LeadTimeDays)
	assert.InDelta(t, 32.0, p.TotalDemand(), 1e-9)

	points := p.Points()
	require.Len(t, points, 3)
	assert.Equal(t, Point{Date: "2026-01-02", Demand: 12}, points[1])
}

func TestPrediction_Validate(t *testing.T) {
	tests := []struct {
		name string
		p    *Prediction
	}{
		{"nil", nil},
		{"no dates", &Prediction{}},
		{"length mismatch", &Prediction{Forecast: Forecast{Dates: []string{"a", "b"}, PredictedDemand: []float64{1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, tt.p.Validate(), ErrInvalidPrediction)
		})
	}
}

func TestParseImportSummary(t *testing.T) {
	s, err := ParseImportSummary("42 sales records successfully imported.")
	require.NoError(t, err)
	require.NotNil(t, s.Records)
	assert.Equal(t, 42, *s.Records)

	s, err = ParseImportSummary("Import finished")
	require.NoError(t, err)
	assert.Nil(t, s.Records)
	assert.Equal(t, "Import finished", s.Message)

	_, err = ParseImportSummary("   ")
	require.ErrorIs(t, err, ErrEmptyImportSummary)
}
