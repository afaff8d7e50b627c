// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, runtime metrics and debug introspection for the IPC tree.
//
// Provides:
//   - Environment-driven configuration with a reloadable store
//   - Prometheus collectors registered on a caller-supplied registerer
//   - Named debug probes for state dumps
package control
