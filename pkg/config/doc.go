// Package config loads and watches the exporter's YAML configuration file.
//
// Only the log level is applied live when the file changes; everything else
// takes effect on the next start.
//
package config
