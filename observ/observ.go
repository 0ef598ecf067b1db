// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package observ periodically logs structured occupancy snapshots for
// read/write streams and the host they run on, on a cron schedule.
package observ

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// StreamStats is a point-in-time occupancy snapshot a stream reports to the
// reporter. Either ring/plane fields (read streams) or pool fields (write
// streams) are populated, not both.
type StreamStats struct {
	Name string `json:"name"`

	RingLen        int `json:"ring_len,omitempty"`
	RingFilled     int `json:"ring_filled,omitempty"`
	PlaneLen       int `json:"plane_len,omitempty"`
	PlanePopulated int `json:"plane_populated,omitempty"`

	PoolFree int `json:"pool_free,omitempty"`

	Underflowed bool `json:"underflowed,omitempty"`
}

// StatsSource is implemented by a stream client wrapper the caller supplies
// to have its occupancy included in each report.
type StatsSource interface {
	Stats() StreamStats
}

type hostSnapshot struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
}

// Reporter emits a structured log line on a cron schedule, covering every
// registered stream's occupancy plus host CPU/memory.
type Reporter struct {
	logger    *slog.Logger
	cron      *cron.Cron
	startTime time.Time

	mu      sync.Mutex
	sources map[string]StatsSource
}

// NewReporter builds a Reporter that fires on schedule (6-field cron syntax
// with a leading seconds field, e.g. "*/10 * * * * *" for every ten seconds).
func NewReporter(schedule string, logger *slog.Logger) (*Reporter, error) {
	r := &Reporter{
		logger:    logger.With("component", "observ.Reporter"),
		startTime: time.Now(),
		sources:   make(map[string]StatsSource),
	}
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))),
	)
	if _, err := c.AddFunc(schedule, r.report); err != nil {
		return nil, err
	}
	r.cron = c
	return r, nil
}

// Register adds a stream's stats source under name, replacing any previous
// registration with the same name.
func (r *Reporter) Register(name string, source StatsSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[name] = source
}

// Unregister removes a stream's stats source.
func (r *Reporter) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sources, name)
}

// Start begins the cron schedule.
func (r *Reporter) Start() {
	r.cron.Start()
	r.logger.Info("stats reporter started")
}

// Stop drains any in-flight report and stops the schedule.
func (r *Reporter) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("stats reporter stopped")
}

func (r *Reporter) report() {
	r.mu.Lock()
	snaps := make([]StreamStats, 0, len(r.sources))
	for name, s := range r.sources {
		snap := s.Stats()
		snap.Name = name
		snaps = append(snaps, snap)
	}
	r.mu.Unlock()

	host := collectHost()
	streamsJSON, _ := json.Marshal(snaps)

	r.logger.Info("pcmstream stats",
		"uptime_seconds", int64(time.Since(r.startTime).Seconds()),
		"streams_total", len(snaps),
		"cpu_percent", host.CPUPercent,
		"memory_percent", host.MemoryPercent,
		"streams", json.RawMessage(streamsJSON),
	)
}

func collectHost() hostSnapshot {
	var snap hostSnapshot
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		snap.CPUPercent = pcts[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemoryPercent = vm.UsedPercent
	}
	return snap
}
