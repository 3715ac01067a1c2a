// Package collector renders the live snapshot in the Prometheus exposition
// format.
//
// It implements the Prometheus collector interface, but unlike a typical
// exporter it never reaches out to Solr when a request comes in: the nodes
// are scraped on the exporter's own interval (see `pkg/scheduler`) and this
// package only converts whatever round was last published, so that
// concurrent pulls are cheap and never contend with a scrape.
//
package collector
