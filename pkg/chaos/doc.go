// Package chaos injects global latency and error faults ahead of the
// request pipeline. Faults are configured once at startup and sampled
// per request.
package chaos
