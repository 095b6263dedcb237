package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrEncounterActive 该住户已有未结束的检测
var ErrEncounterActive = errors.New("resident already has an active encounter")

// DefaultLockTTL 锁的兜底过期时间（外壳崩溃后自动释放）
const DefaultLockTTL = 30 * time.Minute

// EncounterLock 同一住户同时只允许一个未结束的检测
// key: care:encounter:lock:{tenant}:{resident}，value: encounter_id
type EncounterLock struct {
	kv       KV
	tenantID string
	ttl      time.Duration
}

func NewEncounterLock(kv KV, tenantID string, ttl time.Duration) *EncounterLock {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &EncounterLock{kv: kv, tenantID: tenantID, ttl: ttl}
}

func (l *EncounterLock) key(residentID string) string {
	return fmt.Sprintf("care:encounter:lock:%s:%s", l.tenantID, residentID)
}

// Acquire 占用住户，已被其他检测占用时返回 ErrEncounterActive（同一检测重复占用视为成功）
func (l *EncounterLock) Acquire(ctx context.Context, residentID, encounterID string) error {
	key := l.key(residentID)
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := l.kv.SetNX(ctx, key, encounterID, l.ttl)
		if err != nil {
			return fmt.Errorf("failed to acquire encounter lock: %w", err)
		}
		if ok {
			return nil
		}

		holder, err := l.kv.Get(ctx, key)
		if errors.Is(err, ErrMiss) {
			// 两次调用之间刚好过期
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read encounter lock: %w", err)
		}
		if holder == encounterID {
			return nil
		}
		return fmt.Errorf("%w: %s held by %s", ErrEncounterActive, residentID, holder)
	}
	return fmt.Errorf("%w: %s", ErrEncounterActive, residentID)
}

// Release 只释放自己持有的锁
func (l *EncounterLock) Release(ctx context.Context, residentID, encounterID string) error {
	if _, err := l.kv.DelIfEqual(ctx, l.key(residentID), encounterID); err != nil {
		return fmt.Errorf("failed to release encounter lock: %w", err)
	}
	return nil
}

// Holder 当前占用该住户的检测ID，没有时返回空串
func (l *EncounterLock) Holder(ctx context.Context, residentID string) (string, error) {
	v, err := l.kv.Get(ctx, l.key(residentID))
	if err != nil {
		if errors.Is(err, ErrMiss) {
			return "", nil
		}
		return "", err
	}
	return v, nil
}
