// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, runtime counters and debug introspection for hioload-wl.
//
// Provides:
//   - Config defaults, YAML loading and validation
//   - MetricsRegistry counters fed by the reactor and the session
//   - DebugProbes for dumping live session state
package control
