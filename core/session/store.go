package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// 数据库bucket名称
const (
	runsBucket  = "runs"
	itemsBucket = "items"
)

// RunRecord 持久化的运行记录
type RunRecord struct {
	SessionID  string    `json:"session_id"`
	State      string    `json:"state"`
	SourceKind string    `json:"source_kind"`
	StartTime  time.Time `json:"start_time"`
	LastUpdate time.Time `json:"last_update"`
	TotalItems int       `json:"total_items"`
	Processed  int       `json:"processed"`
	Failed     int       `json:"failed"`
}

// Store 会话持久化存储
// 每轮运行的汇总和逐项结果都落盘，便于事后查看历史记录。
type Store struct {
	db     *bbolt.DB
	logger *zap.Logger
	mutex  sync.Mutex
	dbPath string
}

// NewStore 创建会话存储
// dbPath为空时使用系统临时目录下的默认路径。
func NewStore(logger *zap.Logger, dbPath string) (*Store, error) {
	if dbPath == "" {
		dbDir := filepath.Join(os.TempDir(), "piktag_sessions")
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, err
		}
		dbPath = filepath.Join(dbDir, "sessions.db")
	} else {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, err
		}
	}

	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(runsBucket)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(itemsBucket)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:     db,
		logger: logger,
		dbPath: dbPath,
	}, nil
}

// SaveRun 保存或更新运行记录
func (st *Store) SaveRun(snap *Snapshot, state, sourceKind string) error {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	record := &RunRecord{
		SessionID:  snap.ID,
		State:      state,
		SourceKind: sourceKind,
		StartTime:  snap.CreatedAt,
		LastUpdate: time.Now(),
		TotalItems: snap.TotalItems,
		Processed:  snap.ProcessedItems,
		Failed:     snap.FailedItems,
	}

	return st.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(runsBucket))
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return b.Put([]byte(snap.ID), data)
	})
}

// RecordItem 保存单个项目的处理结果
func (st *Store) RecordItem(sessionID string, r *Result) error {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	var keyBuilder strings.Builder
	keyBuilder.WriteString(sessionID)
	keyBuilder.WriteString(":")
	keyBuilder.WriteString(r.ItemID)

	return st.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(itemsBucket))
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return b.Put([]byte(keyBuilder.String()), data)
	})
}

// ListRuns 列出所有运行记录
func (st *Store) ListRuns() ([]*RunRecord, error) {
	var runs []*RunRecord

	err := st.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(runsBucket))
		return b.ForEach(func(k, v []byte) error {
			var record RunRecord
			if err := json.Unmarshal(v, &record); err != nil {
				st.logger.Warn("运行记录损坏，已跳过", zap.String("key", string(k)), zap.Error(err))
				return nil
			}
			runs = append(runs, &record)
			return nil
		})
	})

	return runs, err
}

// ListItems 列出某次运行的逐项结果
func (st *Store) ListItems(sessionID string) ([]*Result, error) {
	var results []*Result
	prefix := sessionID + ":"

	err := st.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(itemsBucket))
		c := b.Cursor()

		for k, v := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, v = c.Next() {
			var r Result
			if err := json.Unmarshal(v, &r); err != nil {
				continue
			}
			results = append(results, &r)
		}
		return nil
	})

	return results, err
}

// DeleteRun 删除一次运行及其逐项结果
func (st *Store) DeleteRun(sessionID string) error {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	return st.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket([]byte(runsBucket))
		if err := runs.Delete([]byte(sessionID)); err != nil {
			return err
		}

		items := tx.Bucket([]byte(itemsBucket))
		c := items.Cursor()
		prefix := sessionID + ":"

		var keysToDelete [][]byte
		for k, _ := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, _ = c.Next() {
			keysToDelete = append(keysToDelete, append([]byte(nil), k...))
		}
		for _, key := range keysToDelete {
			if err := items.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close 关闭存储
func (st *Store) Close() error {
	if st.db != nil {
		return st.db.Close()
	}
	return nil
}
