// internal/services/lock_manager.go
package services

import (
	"sync"
	"time"
)

// LockManager 按文档ID分配读写锁，序列化对同一文档的读-改-写
type LockManager struct {
	locks      map[string]*LockInfo
	globalLock sync.Mutex
	lockTTL    time.Duration
	maxLocks   int
	stop       chan struct{}
	stopOnce   sync.Once
}

// LockInfo 包装锁和相关信息
type LockInfo struct {
	Mutex    *sync.RWMutex
	LastUsed time.Time
	refs     int
}

// NewLockManager 创建锁管理器
func NewLockManager() *LockManager {
	lm := &LockManager{
		locks:    make(map[string]*LockInfo),
		lockTTL:  30 * time.Minute,
		maxLocks: 200,
		stop:     make(chan struct{}),
	}
	lm.startCleanup(5 * time.Minute)
	return lm
}

// acquire 获取锁信息并增加引用计数，使用中的锁不会被清理
func (lm *LockManager) acquire(id string) *LockInfo {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	info, exists := lm.locks[id]
	if !exists {
		info = &LockInfo{Mutex: &sync.RWMutex{}}
		lm.locks[id] = info
	}
	info.refs++
	info.LastUsed = time.Now()
	return info
}

func (lm *LockManager) release(info *LockInfo) {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()
	info.refs--
	info.LastUsed = time.Now()
}

// WithLock 在文档写锁保护下执行操作
func (lm *LockManager) WithLock(id string, fn func() error) error {
	info := lm.acquire(id)
	defer lm.release(info)

	info.Mutex.Lock()
	defer info.Mutex.Unlock()
	return fn()
}

// WithReadLock 在文档读锁保护下执行操作
func (lm *LockManager) WithReadLock(id string, fn func() error) error {
	info := lm.acquire(id)
	defer lm.release(info)

	info.Mutex.RLock()
	defer info.Mutex.RUnlock()
	return fn()
}

// Close 停止后台清理
func (lm *LockManager) Close() {
	lm.stopOnce.Do(func() { close(lm.stop) })
}

func (lm *LockManager) startCleanup(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-lm.stop:
				return
			case <-ticker.C:
				lm.cleanupUnusedLocks()
			}
		}
	}()
}

// cleanupUnusedLocks 锁数量过多时清理长时间未使用且无人持有的锁
func (lm *LockManager) cleanupUnusedLocks() {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	if len(lm.locks) <= lm.maxLocks {
		return
	}

	now := time.Now()
	for id, info := range lm.locks {
		if info.refs == 0 && now.Sub(info.LastUsed) > lm.lockTTL {
			delete(lm.locks, id)
		}
	}
}
