// Package redis provides Redis-backed adapters: an OutputStore whose rings
// survive restarts and are shared between console backends, a capped audit
// log, and a DistributedLocker for serializing commits across processes.
package redis
