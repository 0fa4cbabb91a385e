package recorder

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS channel_messages (
	id          BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	received_at TIMESTAMPTZ NOT NULL,
	topic       TEXT NOT NULL,
	event       TEXT NOT NULL,
	ref         TEXT NOT NULL DEFAULT '',
	join_ref    TEXT NOT NULL DEFAULT '',
	payload     JSONB
);

CREATE INDEX IF NOT EXISTS channel_messages_topic_received_at_idx
	ON channel_messages (topic, received_at);
`

// EnsureSchema creates the channel_messages table if it does not exist.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
