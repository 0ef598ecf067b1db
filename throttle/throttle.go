// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package throttle rate-limits the blocking I/O servers' disk and network
// traffic with a token-bucket limiter, so a read or write server backed by
// a slow or shared device never saturates it.
package throttle

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// maxBurstSize caps how many bytes a single Write call can reserve at once,
// regardless of the configured burst, so a large Encode call doesn't stall
// waiting on one giant token reservation.
const maxBurstSize = 256 * 1024

// Writer wraps an io.Writer with token-bucket rate limiting.
type Writer struct {
	w       io.Writer
	limiter *rate.Limiter
	ctx     context.Context
}

// NewWriter wraps w with a limiter capped at bytesPerSec bytes/second and a
// burst of burstBytes. If bytesPerSec <= 0, w is returned unwrapped.
func NewWriter(ctx context.Context, w io.Writer, bytesPerSec, burstBytes int64) io.Writer {
	if bytesPerSec <= 0 {
		return w
	}
	burst := int(burstBytes)
	if burst <= 0 || int64(burst) > bytesPerSec {
		burst = int(bytesPerSec)
	}
	if burst > maxBurstSize {
		burst = maxBurstSize
	}
	return &Writer{
		w:       w,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		ctx:     ctx,
	}
}

// Write implements io.Writer with rate limiting, splitting writes larger
// than the burst into chunks so tokens are consumed gradually.
func (tw *Writer) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		chunk := len(p)
		if chunk > tw.limiter.Burst() {
			chunk = tw.limiter.Burst()
		}
		if err := tw.limiter.WaitN(tw.ctx, chunk); err != nil {
			return total, err
		}
		n, err := tw.w.Write(p[:chunk])
		total += n
		if err != nil {
			return total, err
		}
		p = p[n:]
	}
	return total, nil
}

// Reader wraps an io.Reader with token-bucket rate limiting, for throttling
// decoder input (e.g. a remote-mounted source file).
type Reader struct {
	r       io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

// NewReader wraps r the same way NewWriter wraps an io.Writer.
func NewReader(ctx context.Context, r io.Reader, bytesPerSec, burstBytes int64) io.Reader {
	if bytesPerSec <= 0 {
		return r
	}
	burst := int(burstBytes)
	if burst <= 0 || int64(burst) > bytesPerSec {
		burst = int(bytesPerSec)
	}
	if burst > maxBurstSize {
		burst = maxBurstSize
	}
	return &Reader{
		r:       r,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		ctx:     ctx,
	}
}

func (tr *Reader) Read(p []byte) (int, error) {
	max := tr.limiter.Burst()
	if len(p) > max {
		p = p[:max]
	}
	if err := tr.limiter.WaitN(tr.ctx, len(p)); err != nil {
		return 0, err
	}
	return tr.r.Read(p)
}
