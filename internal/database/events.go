package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// RoomEventRecord is the shape drained from the Redis audit queue into
// the append-only room_events table.
type RoomEventRecord struct {
	RoomID    uuid.UUID              `json:"room_id"`
	UserID    *uuid.UUID             `json:"user_id,omitempty"`
	EventType string                 `json:"event_type"`
	EventData map[string]interface{} `json:"event_data,omitempty"`
	Timestamp int64                  `json:"timestamp"` // epoch millis
}

// InsertRoomEvents appends a batch of audit records in one transaction.
func (s *Store) InsertRoomEvents(ctx context.Context, records []RoomEventRecord) error {
	if len(records) == 0 {
		return nil
	}
	return pgx.BeginTxFunc(ctx, s.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, rec := range records {
			dataRaw, err := json.Marshal(rec.EventData)
			if err != nil {
				return fmt.Errorf("marshal event data: %w", err)
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO room_events (id, room_id, user_id, event_type, event_data, created_at)
				VALUES ($1, $2, $3, $4, $5, to_timestamp($6::double precision / 1000))`,
				uuid.New(), rec.RoomID, rec.UserID, rec.EventType, dataRaw, rec.Timestamp,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}
