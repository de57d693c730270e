package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/iabetor/voiceform/internal/form"
	"github.com/iabetor/voiceform/internal/logger"
)

// Entry 是一次成功合成的记录。只保存结果引用，不保存音频内容。
type Entry struct {
	ID        string
	FileName  string
	FileSize  int64
	MimeType  string
	Text      string
	AudioURL  string
	CreatedAt time.Time
}

// Store 使用 SQLite 持久化合成历史。
type Store struct {
	db   *sql.DB
	path string
}

// Open 打开或创建历史数据库。
// dbPath 为空时使用 ~/.voiceform/history.db。
func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		home, _ := os.UserHomeDir()
		if home != "" {
			dbPath = filepath.Join(home, ".voiceform", "history.db")
		} else {
			dbPath = "./voiceform-history.db"
		}
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("创建数据库目录失败: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	// 设置 WAL 模式（web 模式下多个会话会并发写入）
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("设置 WAL 模式失败: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Infof("[history] 历史记录已打开: %s", dbPath)
	return &Store{db: db, path: dbPath}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS synth_history (
			id TEXT PRIMARY KEY,
			file_name TEXT NOT NULL,
			file_size INTEGER DEFAULT 0,
			mime_type TEXT DEFAULT '',
			text TEXT NOT NULL,
			audio_url TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_synth_history_created ON synth_history(created_at);
	`)
	if err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}
	return nil
}

// Path 返回数据库文件路径。
func (s *Store) Path() string {
	return s.path
}

// Add 写入一条记录，ID 和时间为空时自动填充。
func (s *Store) Add(e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO synth_history (id, file_name, file_size, mime_type, text, audio_url, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.FileName, e.FileSize, e.MimeType, e.Text, e.AudioURL, e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("写入历史记录失败: %w", err)
	}
	return e, nil
}

// Recorder 返回可直接注册到 form.WithOnSuccess 的回调。
// 写入失败只记录日志，不影响表单状态。
func (s *Store) Recorder() form.SuccessFunc {
	return func(file form.FileInfo, text, audioURL string) {
		_, err := s.Add(Entry{
			FileName: file.Name,
			FileSize: file.Size,
			MimeType: file.MimeType,
			Text:     text,
			AudioURL: audioURL,
		})
		if err != nil {
			logger.Warnf("[history] %v", err)
		}
	}
}

// List 按时间倒序返回最近的记录，limit <= 0 表示不限制。
func (s *Store) List(limit int) ([]Entry, error) {
	query := `SELECT id, file_name, file_size, mime_type, text, audio_url, created_at
		FROM synth_history ORDER BY created_at DESC, rowid DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询历史记录失败: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(&e.ID, &e.FileName, &e.FileSize, &e.MimeType, &e.Text, &e.AudioURL, &created); err != nil {
			return nil, fmt.Errorf("读取历史记录失败: %w", err)
		}
		e.CreatedAt = time.UnixMilli(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Get 按 ID 查找记录，不存在时返回 nil。
func (s *Store) Get(id string) (*Entry, error) {
	var e Entry
	var created int64
	err := s.db.QueryRow(
		`SELECT id, file_name, file_size, mime_type, text, audio_url, created_at FROM synth_history WHERE id = ?`, id,
	).Scan(&e.ID, &e.FileName, &e.FileSize, &e.MimeType, &e.Text, &e.AudioURL, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询历史记录失败: %w", err)
	}
	e.CreatedAt = time.UnixMilli(created)
	return &e, nil
}

// Clear 删除全部记录，返回删除条数。
func (s *Store) Clear() (int64, error) {
	res, err := s.db.Exec("DELETE FROM synth_history")
	if err != nil {
		return 0, fmt.Errorf("清空历史记录失败: %w", err)
	}
	return res.RowsAffected()
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
