// Package cachestore caches small JSON-encoded values with a fixed TTL and explicit purging.
//
// There is an interface plus implementations backed by in-process memory and by redis. The redis one is shared between replicas, so a purge on one replica is seen by all of them.
package cachestore
