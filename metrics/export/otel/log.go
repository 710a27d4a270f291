package otel

import (
	"context"
	"errors"
	"log/slog"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// meterName scopes the instruments the log pipeline registers.
const meterName = "github.com/MrEthical07/goReauth"

// LogExporter is an sdkmetric.Exporter that writes every non-zero int64 data
// point as one slog record.
type LogExporter struct {
	logger *slog.Logger
}

func NewLogExporter(logger *slog.Logger) *LogExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogExporter{logger: logger}
}

func (e *LogExporter) Temporality(k sdkmetric.InstrumentKind) metricdata.Temporality {
	return sdkmetric.DefaultTemporalitySelector(k)
}

func (e *LogExporter) Aggregation(k sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return sdkmetric.DefaultAggregationSelector(k)
}

func (e *LogExporter) Export(ctx context.Context, rm *metricdata.ResourceMetrics) error {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				e.logPoints(ctx, m.Name, data.DataPoints)
			case metricdata.Gauge[int64]:
				e.logPoints(ctx, m.Name, data.DataPoints)
			}
		}
	}
	return nil
}

func (e *LogExporter) logPoints(ctx context.Context, name string, points []metricdata.DataPoint[int64]) {
	for _, dp := range points {
		if dp.Value == 0 {
			continue
		}
		e.logger.LogAttrs(ctx, slog.LevelInfo, "metric",
			slog.String("name", name),
			slog.Int64("value", dp.Value),
		)
	}
}

func (e *LogExporter) ForceFlush(context.Context) error { return nil }

func (e *LogExporter) Shutdown(context.Context) error { return nil }

// LogPipeline periodically logs an engine's metrics through the OTel SDK.
type LogPipeline struct {
	provider *sdkmetric.MeterProvider
	exporter *Exporter
}

// StartLogPipeline collects source every interval and logs the result.
// Shutdown performs a final collection.
func StartLogPipeline(source MetricsSource, logger *slog.Logger, interval time.Duration) (*LogPipeline, error) {
	if interval <= 0 {
		return nil, errors.New("otel: log interval must be > 0")
	}
	reader := sdkmetric.NewPeriodicReader(NewLogExporter(logger), sdkmetric.WithInterval(interval))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	exp, err := NewExporterFromSource(provider.Meter(meterName), source)
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, err
	}
	return &LogPipeline{provider: provider, exporter: exp}, nil
}

func (p *LogPipeline) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	// Flush before unregistering so the final collection still sees the
	// engine's instruments.
	flushErr := p.provider.Shutdown(ctx)
	return errors.Join(flushErr, p.exporter.Close())
}
