// Package pipeline implements a concurrent, multi-stage ingestion runtime:
// a pool of producers pulls or receives messages, a pool of processors
// transforms and routes them by destination key, a batcher per key groups
// them into size- or time-bounded batches, and a pool of consumers per key
// invokes a user batch handler and drives acknowledgement.
//
// Every stage runs as its own goroutine with its own inbox, governed by a
// pull-based demand/credit protocol: a subscriber hands its upstream a
// bounded credit and replenishes it as it drains. A three-tier supervision
// tree scopes crashes: killing a processor restarts only the processor
// pool, killing a batcher restarts the batcher and its consumer pool, and
// killing a producer restarts only that producer.
//
// Build a Topology with NewTopology, call Start, and call Stop when done.
package pipeline
