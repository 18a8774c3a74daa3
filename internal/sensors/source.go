// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sensors produces raw channel events for the aggregator.
package sensors

import (
	"context"

	"github.com/relabs-tech/sensorsend/internal/sample"
)

// Event is one raw reading from one channel.
type Event struct {
	Channel sample.Channel
	Vector  sample.Vector3
}

// Source delivers raw events to emit until ctx is done or the source fails.
// emit is called from a single goroutine, one event at a time.
type Source interface {
	Run(ctx context.Context, emit func(Event)) error
}
