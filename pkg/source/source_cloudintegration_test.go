//go:build cloudintegration

package source_test

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/inventoryctl/pkg/source"
	"github.com/3leaps/inventoryctl/test/cloudtest"
)

func TestResolveS3_Integration(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	bucket := cloudtest.CreateBucket(t, ctx)
	jan := cloudtest.PutSalesCSV(t, ctx, bucket, "sales/2024-01/store-1.csv", "2024-01-02,MUG-01,4")
	cloudtest.PutSalesCSV(t, ctx, bucket, "sales/2024-02/store-1.csv", "2024-02-02,MUG-01,6")
	cloudtest.PutSalesCSV(t, ctx, bucket, "archive/2023-12/store-1.csv", "2023-12-02,MUG-01,1")

	r := source.NewResolver(source.WithS3Config(cloudtest.Config()))

	t.Run("Glob", func(t *testing.T) {
		inputs, err := r.Resolve(ctx, []string{cloudtest.URI(bucket, "sales/**/*.csv")})
		require.NoError(t, err)
		require.Len(t, inputs, 2)
		assert.Equal(t, cloudtest.URI(bucket, "sales/2024-01/store-1.csv"), inputs[0].Location)
		assert.Equal(t, "store-1.csv", inputs[0].Name)
		assert.Equal(t, int64(len(jan)), inputs[0].Size)

		rc, err := inputs[0].Open(ctx)
		require.NoError(t, err)
		defer func() { _ = rc.Close() }()
		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, jan, got)
	})

	t.Run("SingleObject", func(t *testing.T) {
		inputs, err := r.Resolve(ctx, []string{cloudtest.URI(bucket, "archive/2023-12/store-1.csv")})
		require.NoError(t, err)
		require.Len(t, inputs, 1)
	})

	t.Run("MissingObject", func(t *testing.T) {
		_, err := r.Resolve(ctx, []string{cloudtest.URI(bucket, "sales/2030-01/none.csv")})
		require.Error(t, err)
		assert.True(t, source.IsNotFound(err), "got %v", err)
	})

	t.Run("NoMatch", func(t *testing.T) {
		_, err := r.Resolve(ctx, []string{cloudtest.URI(bucket, "sales/2030-*/*.csv")})
		require.ErrorIs(t, err, source.ErrNoMatch)
	})
}
