package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"purchase-sync/pkg/logging"
	"sync"
	"time"
)

// ReplayGuard 重放攻击防护
type ReplayGuard interface {
	// IsReplay records the notification and reports whether it was seen before.
	IsReplay(ctx context.Context, notificationUUID string, signedDate int64) (bool, error)
}

// ReplayProtection 基于内存的重放攻击防护
type ReplayProtection struct {
	processedNotifications map[string]time.Time
	mutex                  sync.RWMutex
	cleanupInterval        time.Duration
	notificationTTL        time.Duration
	stopCleanup            chan struct{}
	stopOnce               sync.Once
}

// NewReplayProtection 创建重放攻击防护实例
func NewReplayProtection(ttl time.Duration) *ReplayProtection {
	rp := &ReplayProtection{
		processedNotifications: make(map[string]time.Time),
		cleanupInterval:        time.Hour, // 每小时清理一次
		notificationTTL:        ttl,
		stopCleanup:            make(chan struct{}),
	}

	// 启动清理协程
	go rp.startCleanupRoutine()

	return rp
}

// IsReplay 检查是否为重放攻击
// 返回 true 如果是重放，false 如果不是
func (rp *ReplayProtection) IsReplay(_ context.Context, notificationUUID string, signedDate int64) (bool, error) {
	if notificationUUID == "" {
		// 如果没有 UUID，无法判断，返回 false（允许处理）
		logging.Infof("Notification UUID is empty, skipping replay check")
		return false, nil
	}

	rp.mutex.Lock()
	defer rp.mutex.Unlock()

	notificationID := notificationKey(notificationUUID, signedDate)

	// 检查是否已处理过
	if processedTime, exists := rp.processedNotifications[notificationID]; exists {
		logging.Infof("Replay detected - notification_id: %s, previously processed at: %v", notificationID, processedTime)
		return true, nil
	}

	// 记录通知
	rp.processedNotifications[notificationID] = time.Now()
	return false, nil
}

// notificationKey 生成通知的唯一标识符
func notificationKey(notificationUUID string, signedDate int64) string {
	data := fmt.Sprintf("%s:%d", notificationUUID, signedDate)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// startCleanupRoutine 启动清理协程
func (rp *ReplayProtection) startCleanupRoutine() {
	ticker := time.NewTicker(rp.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rp.cleanup(time.Now())
		case <-rp.stopCleanup:
			return
		}
	}
}

// cleanup 清理过期的通知记录
func (rp *ReplayProtection) cleanup(now time.Time) {
	rp.mutex.Lock()
	defer rp.mutex.Unlock()

	initialCount := len(rp.processedNotifications)
	for notificationID, processedTime := range rp.processedNotifications {
		if now.Sub(processedTime) > rp.notificationTTL {
			delete(rp.processedNotifications, notificationID)
		}
	}

	cleanedCount := initialCount - len(rp.processedNotifications)
	if cleanedCount > 0 {
		logging.Infof("Replay protection cleanup: removed %d expired notifications, remaining: %d", cleanedCount, len(rp.processedNotifications))
	}
}

// GetStats 获取统计信息
func (rp *ReplayProtection) GetStats() map[string]interface{} {
	rp.mutex.RLock()
	defer rp.mutex.RUnlock()

	return map[string]interface{}{
		"total_processed":  len(rp.processedNotifications),
		"cleanup_interval": rp.cleanupInterval.String(),
		"notification_ttl": rp.notificationTTL.String(),
	}
}

// Stop 停止清理协程
func (rp *ReplayProtection) Stop() {
	rp.stopOnce.Do(func() { close(rp.stopCleanup) })
}

// Locker 校验请求的互斥锁，防止同一收据被并发校验
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// MemoryLocker 基于内存的互斥锁
type MemoryLocker struct {
	mutex sync.Mutex
	held  map[string]time.Time // key -> 过期时间
}

// NewMemoryLocker 创建内存锁
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]time.Time)}
}

// Acquire 获取锁，已被持有且未过期时返回 false
func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	now := time.Now()
	if expires, ok := l.held[key]; ok && expires.After(now) {
		return false, nil
	}
	l.held[key] = now.Add(ttl)
	return true, nil
}

// Release 释放锁
func (l *MemoryLocker) Release(_ context.Context, key string) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	delete(l.held, key)
	return nil
}
