// Package database provides the PostgreSQL connection pool for recorded
// channel traffic.
package database
