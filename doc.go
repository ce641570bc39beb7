// Package tnt is a client for the binary wire protocol of an in-memory
// NoSQL database server. A Connection pipelines many in-flight requests
// over a single TCP socket, demultiplexing responses by sync tag.
//
// ATTENTION: `tuple`, `key` and `args` arguments for any method should be
// an array or should serialize to a msgpack array.
package tnt
