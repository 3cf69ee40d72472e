// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads anchormesh configuration.
//
// Configuration comes from a single file named by:
//   - the ANCHORMESH_CONFIG environment variable, or
//   - the --config flag of a binary.
//
// There is no automatic discovery and no environment-variable override
// of individual values. A file ending in .json or .jsonc is read as
// JSON with comments and trailing commas allowed; anything else is
// YAML. Durations are written as Go duration strings ("250ms", "20s").
//
// The environment key (development or production) selects an optional
// override section applied after the base values. Production carries
// built-in overrides when the file has none: stale peers are evicted
// and the lobby wait is bounded.
package config
