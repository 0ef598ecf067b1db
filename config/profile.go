// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config loads YAML stream profiles bundling read/write options,
// throttling, and observability settings for a pcmstream deployment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nishisan-dev/pcmstream/read"
	"github.com/nishisan-dev/pcmstream/write"
)

// Profile bundles every tunable of a read/write stream pair into one
// YAML-loadable document.
type Profile struct {
	Stream    StreamInfo    `yaml:"stream"`
	Read      ReadTuning    `yaml:"read"`
	Write     WriteTuning   `yaml:"write"`
	Throttle  ThrottleInfo  `yaml:"throttle"`
	Observ    ObservInfo    `yaml:"observability"`
	Logging   LoggingInfo   `yaml:"logging"`
}

// StreamInfo identifies the profile.
type StreamInfo struct {
	Name string `yaml:"name"`
}

// ReadTuning mirrors read.Options.
type ReadTuning struct {
	BlockSize          int           `yaml:"block_size"`
	NumCacheBlocks     int           `yaml:"num_cache_blocks"`
	NumCaches          int           `yaml:"num_caches"`
	NumLookAheadBlocks int           `yaml:"num_lookahead_blocks"`
	PollInterval       time.Duration `yaml:"poll_interval"`
}

// WriteTuning mirrors write.Options.
type WriteTuning struct {
	BlockSize           int           `yaml:"block_size"`
	NumWriteAheadBlocks int           `yaml:"num_write_ahead_blocks"`
	PollInterval        time.Duration `yaml:"poll_interval"`
}

// ThrottleInfo rate-limits the blocking I/O side of a stream (see
// golang.org/x/time/rate), expressed as a human-readable bytes/sec figure.
type ThrottleInfo struct {
	BytesPerSec    string `yaml:"bytes_per_sec"` // e.g. "8mb", 0/empty disables throttling
	BytesPerSecRaw int64  `yaml:"-"`
	BurstBytes     string `yaml:"burst_bytes"`
	BurstBytesRaw  int64  `yaml:"-"`
}

// ObservInfo configures the periodic stats reporter.
type ObservInfo struct {
	Enabled         bool   `yaml:"enabled"`
	ReportSchedule  string `yaml:"report_schedule"` // cron expression, e.g. "*/10 * * * * *"
}

// LoggingInfo mirrors the teacher's logging block.
type LoggingInfo struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and validates a Profile from path.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("config: parsing profile: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("config: validating profile: %w", err)
	}
	return &p, nil
}

func (p *Profile) validate() error {
	if p.Stream.Name == "" {
		return fmt.Errorf("stream.name is required")
	}

	if p.Read.BlockSize < 0 {
		return fmt.Errorf("read.block_size must not be negative")
	}
	if p.Write.BlockSize < 0 {
		return fmt.Errorf("write.block_size must not be negative")
	}

	if p.Throttle.BytesPerSec != "" {
		raw, err := ParseByteSize(p.Throttle.BytesPerSec)
		if err != nil {
			return fmt.Errorf("throttle.bytes_per_sec: %w", err)
		}
		p.Throttle.BytesPerSecRaw = raw
	}
	if p.Throttle.BurstBytes != "" {
		raw, err := ParseByteSize(p.Throttle.BurstBytes)
		if err != nil {
			return fmt.Errorf("throttle.burst_bytes: %w", err)
		}
		p.Throttle.BurstBytesRaw = raw
	} else if p.Throttle.BytesPerSecRaw > 0 {
		p.Throttle.BurstBytesRaw = p.Throttle.BytesPerSecRaw
	}

	if p.Observ.Enabled && p.Observ.ReportSchedule == "" {
		p.Observ.ReportSchedule = "*/10 * * * * *"
	}

	if p.Logging.Level == "" {
		p.Logging.Level = "info"
	}
	if p.Logging.Format == "" {
		p.Logging.Format = "json"
	}
	return nil
}

// ReadOptions converts the profile's read tuning into read.Options.
func (p *Profile) ReadOptions() read.Options {
	return read.Options{
		BlockSize:          p.Read.BlockSize,
		NumCacheBlocks:     p.Read.NumCacheBlocks,
		NumCaches:          p.Read.NumCaches,
		NumLookAheadBlocks: p.Read.NumLookAheadBlocks,
		PollInterval:       p.Read.PollInterval,
	}
}

// WriteOptions converts the profile's write tuning into write.Options.
func (p *Profile) WriteOptions() write.Options {
	return write.Options{
		BlockSize:           p.Write.BlockSize,
		NumWriteAheadBlocks: p.Write.NumWriteAheadBlocks,
		PollInterval:        p.Write.PollInterval,
	}
}

// ParseByteSize converts human-readable strings like "256mb", "1gb" into
// raw byte counts.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	type suffix struct {
		s string
		m int64
	}
	suffixes := []suffix{
		{"gb", 1024 * 1024 * 1024},
		{"mb", 1024 * 1024},
		{"kb", 1024},
		{"b", 1},
	}

	for _, sfx := range suffixes {
		if strings.HasSuffix(s, sfx.s) {
			numStr := strings.TrimSuffix(s, sfx.s)
			num, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid number %q: %w", numStr, err)
			}
			return num * sfx.m, nil
		}
	}

	num, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown size format %q", s)
	}
	return num, nil
}
