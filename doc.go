// Package p2000 is a monitor for the Dutch P2000 emergency pager network.
//
// The monitor turns the text stream of an SDR decoder pipeline
// (rtl_fm | multimon-ng) into structured, classified alerts and serves them
// to viewers:
//
//	decoder -> parser -> classify -> store -> hub -> gateway (websocket/REST)
//
// # Pipeline
//
// The ingest loop reads newline-delimited FLEX and POCSAG lines and is the
// single producer: parse, classify, append, publish, strictly in order, so
// alert ids are strictly increasing and every consumer observes the same
// order.
//
// Classification resolves each message's capcodes against a CSV table
// (capcode package), derives the emergency service and display color, and
// extracts the dispatch priority (A0/A1/A2/B1/B2/P1/TEST) from the body.
//
// The store keeps a retention-bounded history (72h by default), persisted as
// a JSON snapshot with atomic replace, and answers filtered queries newest
// first. The hub fans live alerts out to subscribers over bounded DropOldest
// queues: slow viewers lose their own oldest alerts, never anyone else's,
// and the store stays lossless.
//
// The gateway serves the websocket live feed (snapshot first, then stream),
// a historical REST query, health and a Prometheus metrics endpoint.
// Optionally every alert is mirrored onto a NATS subject for machine
// consumers.
//
// # Packages
//
//   - parser: decoder line grammars (FLEX, POCSAG)
//   - capcode: capcode table loading and lookup
//   - classify: priority, service and color classification
//   - alert: the alert model and filter predicates
//   - store: retention-bounded durable history
//   - hub: filtered broadcast with backpressure
//   - ingest: the sequential pipeline driver
//   - gateway: websocket + REST surface
//   - natspub: optional NATS alert mirror
//   - config, errors, health, metric, pkg/...: ambient infrastructure
//
// cmd/p2000d wires everything into the monitor binary.
package p2000
