package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Result 单个项目的处理结果
type Result struct {
	ItemID      string        `json:"item_id"`
	FilePath    string        `json:"file_path"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	Category    string        `json:"category,omitempty"`
	Keywords    []string      `json:"keywords,omitempty"`
	Description string        `json:"description,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// Session 一次批处理运行的状态
// 运行期间由编排器独占写入，外部只能通过Snapshot读取副本。
type Session struct {
	ID        string
	CreatedAt time.Time

	mutex          sync.RWMutex
	totalItems     int
	processedItems int
	failedItems    int
	isProcessing   bool
	results        []*Result
}

// Snapshot 会话状态的不可变副本
type Snapshot struct {
	ID             string
	CreatedAt      time.Time
	TotalItems     int
	ProcessedItems int
	FailedItems    int
	IsProcessing   bool
	Results        []*Result
}

// NewSession 创建新会话
func NewSession() *Session {
	return &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
	}
}

// Begin 开始新一轮运行：清空上一轮的结果和计数
func (s *Session) Begin() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.totalItems = 0
	s.processedItems = 0
	s.failedItems = 0
	s.results = s.results[:0]
	s.isProcessing = true
}

// Finish 结束本轮运行
func (s *Session) Finish() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.isProcessing = false
}

// SetTotal 设置本轮待处理项目总数
func (s *Session) SetTotal(total int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.totalItems = total
}

// AddResult 记录一个项目的处理结果并更新计数
func (s *Session) AddResult(r *Result) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.results = append(s.results, r)
	if r.Success {
		s.processedItems++
	} else {
		s.failedItems++
	}
}

// Counts 返回 (总数, 成功数, 失败数)
func (s *Session) Counts() (total, processed, failed int) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.totalItems, s.processedItems, s.failedItems
}

// IsProcessing 返回会话是否正在运行
func (s *Session) IsProcessing() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.isProcessing
}

// Results 返回结果切片的副本
func (s *Session) Results() []*Result {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := make([]*Result, len(s.results))
	copy(out, s.results)
	return out
}

// Snapshot 返回会话状态副本
func (s *Session) Snapshot() *Snapshot {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	results := make([]*Result, len(s.results))
	copy(results, s.results)

	return &Snapshot{
		ID:             s.ID,
		CreatedAt:      s.CreatedAt,
		TotalItems:     s.totalItems,
		ProcessedItems: s.processedItems,
		FailedItems:    s.failedItems,
		IsProcessing:   s.isProcessing,
		Results:        results,
	}
}
