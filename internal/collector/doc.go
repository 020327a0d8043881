// Package collector defines the core types, contracts and error taxonomy shared
// by the watchlist registry, scheduler, politeness gate, worker pool and status
// tracker of the competitive-intelligence collection pipeline.
package collector
