// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package quality

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/pion/stun/v3"
)

// STUNSampler measures round trips with STUN binding requests. Each
// sample dials the next server in round-robin order.
type STUNSampler struct {
	servers []string
	timeout time.Duration
	next    atomic.Uint64
}

var _ Sampler = (*STUNSampler)(nil)

// NewSTUNSampler creates a sampler for "host:port" servers. A sample
// that gets no response within timeout is lost.
func NewSTUNSampler(servers []string, timeout time.Duration) (*STUNSampler, error) {
	if len(servers) == 0 {
		return nil, errors.New("quality: at least one STUN server is required")
	}
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &STUNSampler{servers: servers, timeout: timeout}, nil
}

// Timeout is how long a sample waits for its response.
func (s *STUNSampler) Timeout() time.Duration { return s.timeout }

// Sample sends one binding request and returns the round-trip time.
func (s *STUNSampler) Sample(ctx context.Context) (time.Duration, error) {
	server := s.servers[int(s.next.Add(1)-1)%len(s.servers)]

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "udp", server)
	if err != nil {
		return 0, fmt.Errorf("dialing STUN server %s: %w", server, err)
	}

	client, err := stun.NewClient(conn, stun.WithRTO(s.timeout))
	if err != nil {
		conn.Close()
		return 0, fmt.Errorf("creating STUN client for %s: %w", server, err)
	}
	defer client.Close()

	request, err := stun.Build(stun.TransactionID, stun.BindingRequest, stun.Fingerprint)
	if err != nil {
		return 0, fmt.Errorf("building STUN request: %w", err)
	}

	type outcome struct {
		rtt time.Duration
		err error
	}
	result := make(chan outcome, 1)
	started := time.Now()
	err = client.Start(request, func(event stun.Event) {
		if event.Error != nil {
			result <- outcome{err: event.Error}
			return
		}
		var address stun.XORMappedAddress
		if err := address.GetFrom(event.Message); err != nil {
			result <- outcome{err: fmt.Errorf("STUN response from %s: %w", server, err)}
			return
		}
		result <- outcome{rtt: time.Since(started)}
	})
	if err != nil {
		return 0, fmt.Errorf("sending STUN request to %s: %w", server, err)
	}

	select {
	case received := <-result:
		return received.rtt, received.err
	case <-ctx.Done():
		return 0, fmt.Errorf("STUN request to %s: %w", server, ctx.Err())
	}
}
