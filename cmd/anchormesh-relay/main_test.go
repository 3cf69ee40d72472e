// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import "testing"

func TestFlagDefaults(t *testing.T) {
	var flags relayFlags
	flagSet := newFlagSet(&flags)
	if err := flagSet.Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if flags.listen != ":7480" {
		t.Errorf("listen = %q, want :7480", flags.listen)
	}
	if flags.configPath != "" || flags.redisAddr != "" || flags.logFormat != "" {
		t.Errorf("unexpected non-empty defaults: %+v", flags)
	}
}

func TestFlagOverrides(t *testing.T) {
	var flags relayFlags
	flagSet := newFlagSet(&flags)
	err := flagSet.Parse([]string{"--listen", "127.0.0.1:9000", "--redis-addr", "redis:6379", "--log-format", "text"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if flags.listen != "127.0.0.1:9000" || flags.redisAddr != "redis:6379" || flags.logFormat != "text" {
		t.Errorf("flags not applied: %+v", flags)
	}
}
