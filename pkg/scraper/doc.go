// Package scraper performs collection rounds against Solr nodes.
//
// Every target is scraped concurrently (bounded by the number of workers),
// each with its own deadline. A target that times out, refuses connections
// or answers with garbage only affects its own result: the round carries on
// and its status tells how many targets made it.
//
package scraper
