// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package opentelemetry

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// Shutdown flushes and stops the tracer and meter providers.
// This should be called when the top level application is shutting down
func Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if TracerProvider != nil {
		if err := TracerProvider.ForceFlush(ctx); err != nil {
			log.Errorf("Error flushing traces; is the collector for traces running?; %v", err)
		}
		if err := TracerProvider.Shutdown(ctx); err != nil {
			log.Errorf("Error shutting down tracer provider: %v", err)
		}
	}

	if MeterProvider != nil {
		if err := MeterProvider.ForceFlush(ctx); err != nil {
			log.Errorf("Error flushing metrics; Is the collector for metrics running?; %v", err)
		}
		if err := MeterProvider.Shutdown(ctx); err != nil {
			log.Errorf("Error shutting down meter provider: %v", err)
		}
	}
}
