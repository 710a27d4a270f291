package otel

import (
	"context"
	"errors"
	"fmt"

	goReauth "github.com/MrEthical07/goReauth"
	"github.com/MrEthical07/goReauth/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// MetricsSource is the read side of an engine. *goReauth.Engine satisfies it.
type MetricsSource interface {
	MetricsSnapshot() goReauth.MetricsSnapshot
	AuditDropped() uint64
}

type counterInstrument struct {
	id  goReauth.MetricID
	ins metric.Int64ObservableCounter
}

// latencyInstruments exposes one histogram as cumulative bucket gauges plus
// a sample count.
type latencyInstruments struct {
	id      goReauth.MetricID
	buckets []metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// Exporter publishes engine metrics as observable OTel instruments. Every
// collection cycle reads one engine snapshot.
type Exporter struct {
	source       MetricsSource
	registration metric.Registration
	counters     []counterInstrument
	latency      []latencyInstruments
	auditDropped metric.Int64ObservableCounter
}

// NewExporter registers instruments for engine on meter.
func NewExporter(meter metric.Meter, engine *goReauth.Engine) (*Exporter, error) {
	if engine == nil {
		return nil, ErrNilSource
	}
	return NewExporterFromSource(meter, engine)
}

func NewExporterFromSource(meter metric.Meter, source MetricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{source: source}
	var observables []metric.Observable
	for _, register := range []func(metric.Meter) ([]metric.Observable, error){
		e.registerCounters,
		e.registerLatency,
		e.registerAuditDropped,
	} {
		obs, err := register(meter)
		if err != nil {
			return nil, err
		}
		observables = append(observables, obs...)
	}

	reg, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("otel: register callback: %w", err)
	}
	e.registration = reg
	return e, nil
}

func (e *Exporter) registerCounters(meter metric.Meter) ([]metric.Observable, error) {
	out := make([]metric.Observable, 0, len(internaldefs.CounterDefs))
	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("otel: counter %s: %w", def.Name, err)
		}
		e.counters = append(e.counters, counterInstrument{id: def.ID, ins: ins})
		out = append(out, ins)
	}
	return out, nil
}

func (e *Exporter) registerLatency(meter metric.Meter) ([]metric.Observable, error) {
	var out []metric.Observable
	for _, def := range internaldefs.HistogramDefs {
		li := latencyInstruments{id: def.ID}
		for _, suffix := range internaldefs.HistogramBoundSuffix {
			name := def.Name + "_bucket_le_" + suffix
			g, err := meter.Int64ObservableGauge(name, metric.WithDescription(def.Help+" Cumulative bucket count."))
			if err != nil {
				return nil, fmt.Errorf("otel: bucket %s: %w", name, err)
			}
			li.buckets = append(li.buckets, g)
			out = append(out, g)
		}
		count, err := meter.Int64ObservableGauge(def.Name+"_count", metric.WithDescription(def.Help+" Sample count."))
		if err != nil {
			return nil, fmt.Errorf("otel: count %s: %w", def.Name, err)
		}
		li.count = count
		e.latency = append(e.latency, li)
		out = append(out, count)
	}
	return out, nil
}

func (e *Exporter) registerAuditDropped(meter metric.Meter) ([]metric.Observable, error) {
	ins, err := meter.Int64ObservableCounter(internaldefs.AuditDroppedName,
		metric.WithDescription("Audit events dropped because the dispatcher buffer was full."))
	if err != nil {
		return nil, fmt.Errorf("otel: audit dropped: %w", err)
	}
	e.auditDropped = ins
	return []metric.Observable{ins}, nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()
	for _, c := range e.counters {
		o.ObserveInt64(c.ins, int64(snap.Counters[c.id]))
	}
	for _, li := range e.latency {
		raw, ok := snap.Histograms[li.id]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		for i, g := range li.buckets {
			if i < len(cumulative) {
				o.ObserveInt64(g, int64(cumulative[i]))
			}
		}
		o.ObserveInt64(li.count, int64(cumulative[len(cumulative)-1]))
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
