// Package resolver figures out which Solr nodes should be scraped.
//
// Two topologies are supported: a single, fixed node (Static) and a SolrCloud
// cluster whose live nodes are looked up in ZooKeeper at the beginning of
// every collection round (Cluster).
//
package resolver
