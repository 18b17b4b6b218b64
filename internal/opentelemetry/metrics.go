// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package opentelemetry

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	metricInterfaces "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

var MeterProvider *metric.MeterProvider
var PublishHistogram metricInterfaces.Float64Histogram
var ResourceCounter metricInterfaces.Int64Counter

const DefaultMetricCollectorEndpoint = "localhost:5317"

// Outcomes a processed resource can be counted under
const (
	OutcomePublished   = "published"
	OutcomeUpToDate    = "up_to_date"
	OutcomeUnsupported = "unsupported"
	OutcomeFailed      = "failed"
)

func InitMetrics(endpoint string) {
	metricExporter, err := otlpmetricgrpc.New(
		context.Background(),
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		log.Fatal(err)
	}
	MeterProvider = metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(metricExporter,
			metric.WithInterval(10*time.Second))),
	)

	otel.SetMeterProvider(MeterProvider)

	PublishHistogram, err = MeterProvider.Meter("ckansync").Float64Histogram("resource_publish_seconds",
		metricInterfaces.WithDescription("Time to publish a single ckan resource"),
	)
	if err != nil {
		log.Fatal(err)
	}

	ResourceCounter, err = MeterProvider.Meter("ckansync").Int64Counter("resources_processed",
		metricInterfaces.WithDescription("Resources handled by the layer sync, by format and outcome"),
	)
	if err != nil {
		log.Fatal(err)
	}
}

// CountResource increments the resource counter; a no-op when metrics are disabled
func CountResource(format, outcome string) {
	if MeterProvider == nil {
		return
	}

	ResourceCounter.Add(context.Background(), 1,
		metricInterfaces.WithAttributes(
			attribute.String("format", format),
			attribute.String("outcome", outcome),
		),
	)
}

func RecordPublishDuration(format string, seconds float64) {
	if MeterProvider == nil {
		return
	}

	PublishHistogram.Record(context.Background(), seconds, metricInterfaces.WithAttributes(
		attribute.String("format", format)))
}
