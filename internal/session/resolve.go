// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

package session

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"time"
)

// minBackoff and maxBackoff mirror the teacher's seedForever retry
// window (service/tbc: minW=5, maxW=59 seconds), a jittered wait the
// original distillation dropped on the floor. spec.md never describes
// seed-resolution retry; this is a supplemented feature.
const (
	minBackoff = 5 * time.Second
	maxBackoff = 59 * time.Second
)

// ResolveSeeds resolves host, retrying with a jittered backoff between
// minBackoff and maxBackoff until it succeeds, attempts is exhausted,
// or ctx is cancelled. attempts <= 0 means retry forever.
func ResolveSeeds(ctx context.Context, host string, attempts int) ([]net.IP, error) {
	var lastErr error
	for i := 0; attempts <= 0 || i < attempts; i++ {
		ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
		if err == nil {
			return ips, nil
		}
		lastErr = err

		wait := minBackoff + time.Duration(rand.Int63n(int64(maxBackoff-minBackoff)))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, fmt.Errorf("%w: %s: %v", ErrResolveFailure, host, lastErr)
}
