// Package postgres holds the Postgres schema and the connection setup for
// the service's two backing stores: the Postgres pool and the optional
// Redis client used for shared throttling and per-user locks.
package postgres
