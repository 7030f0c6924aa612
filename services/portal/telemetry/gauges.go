// Copyright (C) 2025 Meridian Works (engineering@meridianworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// RegisterGauges wires the portal's observable gauges to the global
// meter. The callbacks are polled at collection time, so they must be
// cheap and safe for concurrent use.
//
// # Inputs
//
//   - datasetRecords: Current dataset record count.
//   - liveSessions: Current session count; may return an error when the
//     backing store is unavailable, which skips the observation.
func RegisterGauges(datasetRecords func() int, liveSessions func() (int, error)) error {
	meter := otel.Meter("meridian.portal")

	recordsGauge, err := meter.Int64ObservableGauge("meridian_portal_dataset_records",
		metric.WithDescription("Records in the live dataset snapshot"))
	if err != nil {
		return fmt.Errorf("create dataset records gauge: %w", err)
	}

	sessionsGauge, err := meter.Int64ObservableGauge("meridian_portal_live_sessions",
		metric.WithDescription("Sessions currently held by the session store"))
	if err != nil {
		return fmt.Errorf("create live sessions gauge: %w", err)
	}

	_, err = meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		observer.ObserveInt64(recordsGauge, int64(datasetRecords()))
		if count, err := liveSessions(); err == nil {
			observer.ObserveInt64(sessionsGauge, int64(count))
		}
		return nil
	}, recordsGauge, sessionsGauge)
	if err != nil {
		return fmt.Errorf("register gauge callback: %w", err)
	}
	return nil
}
