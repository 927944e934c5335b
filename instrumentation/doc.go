// Package instrumentation provides OpenTelemetry metrics and tracing
// for the authorization layer. When disabled, no-op providers are used
// so instrumented code paths carry zero overhead.
//
// Components accept an optional *Instrumentation; nil is treated as
// disabled.
package instrumentation
