// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package receiver

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/relabs-tech/sensorsend/internal/orientation"
	"github.com/relabs-tech/sensorsend/internal/sample"
)

// Snapshot is the most recent sample and when it arrived.
type Snapshot struct {
	Sample     sample.Sample    `json:"sample"`
	Pose       orientation.Pose `json:"pose"`
	From       string           `json:"from"`
	ReceivedAt time.Time        `json:"receivedAt"`
}

// Latest keeps the last received sample for the JSON API.
type Latest struct {
	mu   sync.RWMutex
	snap Snapshot
	have bool
}

func (l *Latest) Set(snap Snapshot) {
	l.mu.Lock()
	l.snap = snap
	l.have = true
	l.mu.Unlock()
}

func (l *Latest) Get() (Snapshot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap, l.have
}

// ServeHTTP writes the latest snapshot, or 503 before the first sample.
func (l *Latest) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snap, ok := l.Get()
	if !ok {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}
