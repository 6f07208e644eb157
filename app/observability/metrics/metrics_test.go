package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// The provider must be installed before InitAppMetrics runs, otherwise the
// instruments bind to the no-op provider and nothing is exported.
func TestInstrumentsRecordThroughInstalledProvider(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))

	InitAppMetrics()
	m := Get()

	ctx := context.Background()
	m.DbQueryErrorsTotal.Add(ctx, 1)
	m.DbQueryErrorsTotal.Add(ctx, 1)
	m.RegisterRequestsTotal.Add(ctx, 1)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	sumOf := func(name string) int64 {
		var total int64
		for _, sm := range rm.ScopeMetrics {
			for _, met := range sm.Metrics {
				if met.Name != name {
					continue
				}
				sum, ok := met.Data.(metricdata.Sum[int64])
				require.True(t, ok, "expected %s to be an int64 sum", name)
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
		return total
	}

	assert.Equal(t, int64(2), sumOf("db_query_errors_total"))
	assert.Equal(t, int64(1), sumOf("register_requests_total"))
}
