// Package frontier implements the durable URL-state store behind the
// crawler.Store interface. The bolt backend is the default for local
// crawls; postgres serves deployments that already run a database; memory
// backs tests and throwaway runs.
package frontier

// DefaultMaxRetries is the retry ceiling applied when a backend is built
// with a non-positive value. A URL moves to the error status once its
// cumulative retry count exceeds this maximum.
const DefaultMaxRetries = 3
