package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Xushengqwer/risk_gate/internal/platform"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS security_events (
	event_id      TEXT PRIMARY KEY,
	event_type    TEXT NOT NULL,
	actor_id      TEXT NOT NULL,
	performed_by  TEXT,
	severity      REAL NOT NULL,
	description   TEXT,
	metadata_json TEXT,
	created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_security_events_actor ON security_events(actor_id, created_at);
`

// Journal 把安全事件持久化到 SQLite，供事后追溯。
type Journal struct {
	db *sql.DB
}

// OpenJournal 打开 (必要时创建) 审计库并执行建表。
func OpenJournal(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开审计库失败: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("设置 WAL 失败: %w", err)
	}
	if _, err := db.Exec(journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("审计库建表失败: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close 关闭底层连接。
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) LogSecurityEvent(ctx context.Context, ev platform.SecurityEvent) error {
	var meta []byte
	if len(ev.Metadata) > 0 {
		var err error
		if meta, err = json.Marshal(ev.Metadata); err != nil {
			return fmt.Errorf("序列化事件元数据失败: %w", err)
		}
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO security_events (event_id, event_type, actor_id, performed_by, severity, description, metadata_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID, string(ev.Type), ev.ActorID, ev.PerformedBy, ev.Severity, ev.Description, string(meta),
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("写入安全事件失败: %w", err)
	}
	return nil
}

// ListByActor 按时间倒序返回某主体的事件，limit <= 0 表示不限制。
func (j *Journal) ListByActor(ctx context.Context, actorID string, limit int) ([]platform.SecurityEvent, error) {
	query := `SELECT event_id, event_type, actor_id, performed_by, severity, description, metadata_json, created_at
		FROM security_events WHERE actor_id = ? ORDER BY created_at DESC, rowid DESC`
	args := []any{actorID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询安全事件失败: %w", err)
	}
	defer rows.Close()

	var out []platform.SecurityEvent
	for rows.Next() {
		var (
			ev                        platform.SecurityEvent
			evType, performedBy, desc sql.NullString
			metaJSON, createdAt       sql.NullString
		)
		if err := rows.Scan(&ev.EventID, &evType, &ev.ActorID, &performedBy, &ev.Severity, &desc, &metaJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("读取安全事件失败: %w", err)
		}
		ev.Type = platform.SecurityEventType(evType.String)
		ev.PerformedBy = performedBy.String
		ev.Description = desc.String
		if metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &ev.Metadata); err != nil {
				return nil, fmt.Errorf("解析事件元数据失败: %w", err)
			}
		}
		if ts, err := time.Parse(time.RFC3339Nano, createdAt.String); err == nil {
			ev.Timestamp = ts
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

var _ platform.SecurityEventLogger = (*Journal)(nil)
