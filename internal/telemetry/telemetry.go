// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package telemetry records relay metrics through OpenTelemetry. Without
// Init the global no-op MeterProvider is used and recording costs nothing.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/webmailrelay/relay"

// Init installs an SDK MeterProvider exporting over OTLP/HTTP to endpoint
// (a full URL). The returned function flushes and shuts the provider down.
func Init(ctx context.Context, endpoint string, interval time.Duration) (func(context.Context) error, error) {
	exp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(provider)

	slog.Info("metrics export enabled", "endpoint", endpoint, "interval", interval)
	return provider.Shutdown, nil
}

type instruments struct {
	ticks          metric.Int64Counter
	relayed        metric.Int64Counter
	relogins       metric.Int64Counter
	alerts         metric.Int64Counter
	cursor         metric.Int64Gauge
	tickDurationMs metric.Float64Histogram
}

var (
	instOnce sync.Once
	inst     instruments
)

// initInstruments registers instruments against the current global provider.
// Called lazily, so Init must run before the first recording to take effect.
func initInstruments() {
	instOnce.Do(func() {
		m := otel.GetMeterProvider().Meter(meterName)

		inst.ticks, _ = m.Int64Counter("relay.ticks.total",
			metric.WithDescription("Total relay ticks"),
		)
		inst.relayed, _ = m.Int64Counter("relay.messages.total",
			metric.WithDescription("Total messages handed to the outbound transport"),
		)
		inst.relogins, _ = m.Int64Counter("relay.relogins.total",
			metric.WithDescription("Total webmail re-login attempts"),
		)
		inst.alerts, _ = m.Int64Counter("relay.alerts.total",
			metric.WithDescription("Total operator alerts"),
		)
		inst.cursor, _ = m.Int64Gauge("relay.cursor",
			metric.WithDescription("Id of the last relayed message"),
		)
		inst.tickDurationMs, _ = m.Float64Histogram("relay.tick.duration_ms",
			metric.WithDescription("Relay tick duration in milliseconds"),
			metric.WithUnit("ms"),
		)
	})
}

func statusStr(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordTick records one completed tick.
func RecordTick(ctx context.Context, relayed int, d time.Duration, err error) {
	initInstruments()
	attrs := metric.WithAttributes(attribute.String("status", statusStr(err)))
	inst.ticks.Add(ctx, 1, attrs)
	inst.tickDurationMs.Record(ctx, float64(d.Microseconds())/1000, attrs)
}

// RecordRelay records one message relay attempt.
func RecordRelay(ctx context.Context, err error) {
	initInstruments()
	inst.relayed.Add(ctx, 1, metric.WithAttributes(attribute.String("status", statusStr(err))))
}

// RecordCursor records the current cursor value.
func RecordCursor(ctx context.Context, id int64) {
	initInstruments()
	inst.cursor.Record(ctx, id)
}

// RecordRelogin records a re-login attempt.
func RecordRelogin(ctx context.Context, err error) {
	initInstruments()
	inst.relogins.Add(ctx, 1, metric.WithAttributes(attribute.String("status", statusStr(err))))
}

// RecordAlert records an operator alert and whether it was delivered.
func RecordAlert(ctx context.Context, kind string, err error) {
	initInstruments()
	inst.alerts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", statusStr(err)),
	))
}
