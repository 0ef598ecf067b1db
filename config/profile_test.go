// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeProfile(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("writing profile: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeProfile(t, `
stream:
  name: studio-a
`)
	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Logging.Level != "info" || p.Logging.Format != "json" {
		t.Fatalf("expected default logging, got %+v", p.Logging)
	}
}

func TestLoadRequiresStreamName(t *testing.T) {
	path := writeProfile(t, `
read:
  block_size: 4096
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for missing stream.name")
	}
}

func TestLoadParsesThrottleByteSize(t *testing.T) {
	path := writeProfile(t, `
stream:
  name: studio-a
throttle:
  bytes_per_sec: "8mb"
`)
	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Throttle.BytesPerSecRaw != 8*1024*1024 {
		t.Fatalf("expected 8mb parsed, got %d", p.Throttle.BytesPerSecRaw)
	}
	if p.Throttle.BurstBytesRaw != p.Throttle.BytesPerSecRaw {
		t.Fatalf("expected burst to default to the rate, got %d", p.Throttle.BurstBytesRaw)
	}
}

func TestParseByteSizeVariants(t *testing.T) {
	cases := map[string]int64{
		"1kb": 1024,
		"2mb": 2 * 1024 * 1024,
		"1gb": 1024 * 1024 * 1024,
		"512": 512,
	}
	for in, want := range cases {
		got, err := ParseByteSize(in)
		if err != nil {
			t.Fatalf("ParseByteSize(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseByteSize(%q) = %d, want %d", in, got, want)
		}
	}
}
