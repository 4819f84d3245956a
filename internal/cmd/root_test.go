package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/inventoryctl/pkg/apiclient"
)

func TestSetVersionInfo(t *testing.T) {
	orig := versionInfo
	t.Cleanup(func() { versionInfo = orig })

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{name: "release build", version: "1.4.0", commit: "a1b2c3d", buildDate: "2026-10-01T12:00:00Z"},
		{name: "dev build", version: "dev", commit: "unknown", buildDate: "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)
			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
		})
	}
}

func TestExitCode(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: 0},
		{name: "plain error", err: cause, want: exitFailure},
		{name: "cli error", err: exitError(foundry.ExitFileNotFound, "Input not found", cause), want: foundry.ExitFileNotFound},
		{name: "wrapped cli error", err: fmt.Errorf("outer: %w", exitError(foundry.ExitInvalidArgument, "bad", cause)), want: foundry.ExitInvalidArgument},
		{name: "cancelled", err: context.Canceled, want: foundry.ExitSignalInt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestExitError(t *testing.T) {
	cause := errors.New("disk full")
	err := exitError(foundry.ExitFileWriteError, "Failed to write output", cause)

	assert.Equal(t, fmt.Sprintf("Failed to write output: disk full (exit code %d)", foundry.ExitFileWriteError), err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestAPIFailure(t *testing.T) {
	apiErr := func(status int, sentinel error, detail string) error {
		return &apiclient.APIError{Op: "ListProducts", StatusCode: status, Detail: detail, Err: sentinel}
	}
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{name: "cancelled", err: context.Canceled, wantCode: foundry.ExitSignalInt, wantMsg: "cancelled"},
		{name: "unauthenticated", err: apiErr(http.StatusUnauthorized, apiclient.ErrUnauthenticated, "Not authenticated"), wantCode: exitFailure, wantMsg: "inventoryctl login"},
		{name: "validation", err: apiErr(http.StatusBadRequest, apiclient.ErrValidation, "sku and name are required"), wantCode: foundry.ExitInvalidArgument, wantMsg: "sku and name are required"},
		{name: "server", err: apiErr(http.StatusBadGateway, apiclient.ErrServer, ""), wantCode: foundry.ExitExternalServiceUnavailable, wantMsg: "Failed to list"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := apiFailure("Failed to list", tt.err)
			assert.Equal(t, tt.wantCode, ExitCode(err))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestRequestFailure(t *testing.T) {
	err := requestFailure("Failed to create product", errors.New("sku is required"))
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))

	err = requestFailure("Failed to create product",
		&apiclient.APIError{StatusCode: http.StatusServiceUnavailable, Err: apiclient.ErrServer})
	assert.Equal(t, foundry.ExitExternalServiceUnavailable, ExitCode(err))
}

func TestParseID(t *testing.T) {
	id, err := parseID("job id", "42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"0", "-3", "abc", ""} {
		_, err := parseID("job id", bad)
		require.Error(t, err, bad)
		assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
	}
}

func TestFlagOverrides(t *testing.T) {
	resetFlags(rootCmd)
	t.Cleanup(func() { resetFlags(rootCmd) })

	assert.Empty(t, flagOverrides(productListCmd))

	require.NoError(t, rootCmd.PersistentFlags().Set("api-url", "http://api.test:8000"))
	require.NoError(t, rootCmd.PersistentFlags().Set("output", "json"))

	got := flagOverrides(productListCmd)
	assert.Equal(t, map[string]any{"base_url": "http://api.test:8000"}, got["api"])
	assert.Equal(t, map[string]any{"format": "json"}, got["output"])
	assert.NotContains(t, got, "logging")
}

func TestSuccessText(t *testing.T) {
	tests := []struct {
		name       string
		kind       string
		payload    string
		wantMsg    string
		wantResult string
		wantErr    bool
	}{
		{name: "import", kind: kindImport, payload: `"12 sales records successfully imported."`, wantMsg: "12 sales records successfully imported."},
		{name: "empty import", kind: kindImport, payload: `""`, wantErr: true},
		{name: "prediction", kind: kindPrediction, payload: samplePrediction, wantMsg: "forecast ready: 3 days, total demand 32, reorder point 80", wantResult: samplePrediction},
		{name: "malformed prediction", kind: kindPrediction, payload: `"not a forecast"`, wantErr: true},
		{name: "object passes through", kind: kindJob, payload: `{"ok":true}`, wantResult: `{"ok":true}`},
		{name: "text", kind: kindJob, payload: `"done"`, wantMsg: "done"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, result, err := successText(tt.kind, succeeded(tt.payload))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMsg, msg)
			if tt.wantResult == "" {
				assert.Empty(t, result)
			} else {
				assert.JSONEq(t, tt.wantResult, string(result))
			}
		})
	}
}
