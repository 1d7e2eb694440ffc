package history

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/wentf9/sftpq/pkg/models"
)

var (
	// ErrRunNotFound 指定的运行记录不存在
	ErrRunNotFound = errors.New("history: run not found")
)

var (
	runsBucket     = []byte("runs")
	outcomesBucket = []byte("outcomes")
)

// Run 一次进程运行，同一次运行的任务 ID 不会重复
type Run struct {
	ID        string    `json:"id"`
	Node      string    `json:"node"`
	StartedAt time.Time `json:"started_at"`
}

// Record 一个任务的最终结果
type Record struct {
	RunID       string           `json:"run_id"`
	JobID       int64            `json:"job_id"`
	ParentID    int64            `json:"parent_id,omitempty"`
	Direction   models.Direction `json:"direction"`
	IsDirectory bool             `json:"is_directory,omitempty"`
	Filename    string           `json:"filename"`
	LocalPath   string           `json:"local_path"`
	RemotePath  string           `json:"remote_path"`
	Size        int64            `json:"size"`
	Status      models.JobStatus `json:"status"`
	Error       string           `json:"error,omitempty"`
	Message     string           `json:"message,omitempty"`
	FinishedAt  time.Time        `json:"finished_at"`
}

// RecordFromJob 从任务快照生成记录
func RecordFromJob(runID string, job models.TransferJob) Record {
	return Record{
		RunID:       runID,
		JobID:       job.ID,
		ParentID:    job.ParentID,
		Direction:   job.Direction,
		IsDirectory: job.IsDirectory,
		Filename:    job.Filename,
		LocalPath:   job.EffectiveLocalPath,
		RemotePath:  job.EffectiveRemotePath,
		Size:        job.TotalSize,
		Status:      job.Status,
		Error:       job.ErrorMessage,
		Message:     job.Message,
		FinishedAt:  job.UpdatedAt,
	}
}

// Store 基于 bbolt 的历史记录
// runs 桶的 key 为 开始时间(纳秒, 大端) + run id，天然按时间排序
// outcomes 桶下每个 run 一个子桶，key 为任务 ID (大端)
type Store struct {
	db *bbolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(runsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(outcomesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history buckets: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func runKey(r Run) []byte {
	key := make([]byte, 8, 8+len(r.ID))
	binary.BigEndian.PutUint64(key, uint64(r.StartedAt.UnixNano()))
	return append(key, r.ID...)
}

func jobKey(id int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id))
	return key
}

// BeginRun 创建一条新的运行记录
func (s *Store) BeginRun(node string) (Run, error) {
	run := Run{ID: uuid.NewString(), Node: node, StartedAt: time.Now()}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(run)
		if err != nil {
			return err
		}
		if err := tx.Bucket(runsBucket).Put(runKey(run), data); err != nil {
			return err
		}
		_, err = tx.Bucket(outcomesBucket).CreateBucketIfNotExists([]byte(run.ID))
		return err
	})
	if err != nil {
		return Run{}, fmt.Errorf("failed to begin run: %w", err)
	}
	return run, nil
}

// Save 写入或覆盖任务结果，重试后的结果覆盖之前的
func (s *Store) Save(rec Record) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(outcomesBucket).Bucket([]byte(rec.RunID))
		if b == nil {
			return fmt.Errorf("%w: %s", ErrRunNotFound, rec.RunID)
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		return b.Put(jobKey(rec.JobID), data)
	})
}

// Runs 返回最近的运行记录，最新的在前，limit <= 0 表示全部
func (s *Store) Runs(limit int) ([]Run, error) {
	var runs []Run
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(runsBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var r Run
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("failed to unmarshal run: %w", err)
			}
			runs = append(runs, r)
			if limit > 0 && len(runs) >= limit {
				break
			}
		}
		return nil
	})
	return runs, err
}

// Records 返回一次运行的任务结果，按任务 ID 排序
// runID 为空时使用最近一次运行
func (s *Store) Records(runID string, limit int) ([]Record, error) {
	if runID == "" {
		runs, err := s.Runs(1)
		if err != nil {
			return nil, err
		}
		if len(runs) == 0 {
			return nil, nil
		}
		runID = runs[0].ID
	}
	var out []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(outcomesBucket).Bucket([]byte(runID))
		if b == nil {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return b.ForEach(func(_, v []byte) error {
			if limit > 0 && len(out) >= limit {
				return nil
			}
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal record: %w", err)
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
