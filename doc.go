// Package mcplus is a memcached client for the text protocol.
//
// A Client distributes keys over its servers with consistent hashing and
// talks to each server through a single pipelined Connection: requests are
// written back to back and replies are matched to them in order. Lost
// connections are re-dialed with exponential backoff, and requests issued
// meanwhile are buffered.
//
// With Config.Autodiscover the client reads the node list from the
// "config get cluster" command of its seed hosts, as AWS ElastiCache does,
// and queues operations until the list is known.
//
// Values carry a type tag in the item flags, so numbers and JSON documents
// read back as they were written. Namespaces group keys under a generation
// stored in memcached, which makes it possible to drop all of them at once.
package mcplus
