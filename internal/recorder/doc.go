// Package recorder persists channel traffic to PostgreSQL.
//
// A Recorder subscribes to topics like any other subscriber, buffers the
// delivered messages, and batch-inserts them into the channel_messages table.
// Inserts are append-only.
package recorder
