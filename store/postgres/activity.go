package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"tradezone/server"
)

// Append 追加一条活动日志
func (s *Store) Append(ctx context.Context, a server.Activity) error {
	meta, err := json.Marshal(a.Metadata)
	if err != nil || a.Metadata == nil {
		meta = []byte("{}")
	}

	query, args, err := psq.Insert("activity_logs").
		Columns("id", "player_id", "activity_type", "description", "metadata", "created_at").
		Values(a.ID, a.PlayerID, string(a.Type), a.Description, meta, a.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("building activity insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting activity log: %w", err)
	}
	return nil
}
