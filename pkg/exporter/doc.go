// Package exporter ties every piece together into a service that can be
// started and stopped: a resolver finds the nodes, a scheduler scrapes them
// on an interval, and an HTTP server exposes the last completed round to
// whoever pulls from the telemetry path.
//
package exporter
