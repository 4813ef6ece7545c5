package service

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/yeisme/panvault/pkg/metrics"
)

type sessionState int

const (
	sessionStarted sessionState = iota
	sessionReceiving
	sessionCompleted
	sessionFailed
)

func (s sessionState) String() string {
	switch s {
	case sessionStarted:
		return "started"
	case sessionReceiving:
		return "receiving"
	case sessionCompleted:
		return "completed"
	case sessionFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// uploadSession 单个 (user, file) 的在途上传. 所有字段由对应的分段锁保护.
type uploadSession struct {
	userID       string
	fileID       string
	fileName     string
	parentID     string
	contentHash  string
	totalChunks  int
	stagingDir   string
	received     map[int]int64
	provisional  int64
	state        sessionState
	lastActivity time.Time
}

func (s *uploadSession) stagedBytes() int64 {
	var n int64
	for _, size := range s.received {
		n += size
	}

	return n
}

func (s *uploadSession) finished() bool {
	return s.state == sessionCompleted || s.state == sessionFailed
}

func sessionKey(userID, fileID string) string { return userID + "|" + fileID }

// sessionRegistry 有界的会话表 + 分段互斥锁.
type sessionRegistry struct {
	lru     *expirable.LRU[string, *uploadSession]
	stripes []sync.Mutex
}

// newSessionRegistry onEvict 在独立 goroutine 中执行，调用时未持有任何锁.
func newSessionRegistry(size, stripes int, ttl time.Duration, onEvict func(*uploadSession)) *sessionRegistry {
	if stripes < 1 {
		stripes = 1
	}

	r := &sessionRegistry{stripes: make([]sync.Mutex, stripes)}
	r.lru = expirable.NewLRU(size, func(_ string, s *uploadSession) {
		metrics.ActiveSessions.Dec()

		if onEvict != nil {
			// LRU 在持有内部锁时回调
			go onEvict(s)
		}
	}, ttl)

	return r
}

// lock 锁住 (user, file) 所在的分段，返回解锁函数.
func (r *sessionRegistry) lock(userID, fileID string) func() {
	mu := &r.stripes[xxhash.Sum64String(sessionKey(userID, fileID))%uint64(len(r.stripes))]
	mu.Lock()

	return mu.Unlock
}

func (r *sessionRegistry) get(userID, fileID string) (*uploadSession, bool) {
	return r.lru.Get(sessionKey(userID, fileID))
}

func (r *sessionRegistry) peek(userID, fileID string) (*uploadSession, bool) {
	return r.lru.Peek(sessionKey(userID, fileID))
}

// put 新增或刷新会话的过期时间.
func (r *sessionRegistry) put(s *uploadSession) {
	if !r.lru.Contains(sessionKey(s.userID, s.fileID)) {
		metrics.ActiveSessions.Inc()
	}

	r.lru.Add(sessionKey(s.userID, s.fileID), s)
}

func (r *sessionRegistry) remove(userID, fileID string) {
	r.lru.Remove(sessionKey(userID, fileID))
}

func (r *sessionRegistry) size() int { return r.lru.Len() }
