package metrics

import (
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// AppMetrics holds the application's metric instruments.
// Fields are public so they can be recorded from other packages.
type AppMetrics struct {
	RegisterRequestsTotal   metric.Int64Counter
	RegisterDurationSeconds metric.Float64Histogram
	LoginRequestsTotal      metric.Int64Counter
	ResetCodesSentTotal     metric.Int64Counter
	ResetCodesConsumedTotal metric.Int64Counter
	DbQueryErrorsTotal      metric.Int64Counter
}

var (
	appMetrics *AppMetrics
	once       sync.Once
)

// InitAppMetrics initializes the global metric instruments exactly once,
// using the Meter from the globally configured MeterProvider. When called
// before the provider is installed the instruments bind to the no-op
// provider, which is what tests rely on.
func InitAppMetrics() {
	once.Do(func() {
		meter := otel.GetMeterProvider().Meter("ContactBook")
		var err error
		m := &AppMetrics{}

		m.RegisterRequestsTotal, err = meter.Int64Counter(
			"register_requests_total",
			metric.WithDescription("Total number of register requests completed"),
			metric.WithUnit("{request}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create register_requests_total: %v", err)
		}

		m.RegisterDurationSeconds, err = meter.Float64Histogram(
			"register_duration_seconds",
			metric.WithDescription("Duration of register requests in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create register_duration_seconds: %v", err)
		}

		m.LoginRequestsTotal, err = meter.Int64Counter(
			"login_requests_total",
			metric.WithDescription("Total number of successful logins"),
			metric.WithUnit("{request}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create login_requests_total: %v", err)
		}

		m.ResetCodesSentTotal, err = meter.Int64Counter(
			"reset_codes_sent_total",
			metric.WithDescription("Total number of password reset codes emailed"),
			metric.WithUnit("{code}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create reset_codes_sent_total: %v", err)
		}

		m.ResetCodesConsumedTotal, err = meter.Int64Counter(
			"reset_codes_consumed_total",
			metric.WithDescription("Total number of reset codes redeemed for a new password"),
			metric.WithUnit("{code}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create reset_codes_consumed_total: %v", err)
		}

		m.DbQueryErrorsTotal, err = meter.Int64Counter(
			"db_query_errors_total",
			metric.WithDescription("Total number of database query errors"),
			metric.WithUnit("{error}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create db_query_errors_total: %v", err)
		}

		appMetrics = m
	})
}

// Get returns the globally initialized AppMetrics instance, initializing it
// on first use.
func Get() *AppMetrics {
	if appMetrics == nil {
		InitAppMetrics()
	}
	return appMetrics
}
