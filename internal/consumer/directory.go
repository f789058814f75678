package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wisefido-badge-locator/internal/positioning"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// SubjectDirectory 工牌 → subject 解析
type SubjectDirectory interface {
	ResolveBadge(ctx context.Context, badgeID string) (string, error)
}

type directoryEntry struct {
	subjectID string
	unknown   bool
}

// CachedDirectory 带本地 LRU 的工牌目录
//
// 成功解析和 ErrUnknownSubject 都会缓存；其他错误（如数据库不可用）不缓存。
type CachedDirectory struct {
	dir  SubjectDirectory
	memo *expirable.LRU[string, directoryEntry]
}

// NewCachedDirectory 创建带缓存的工牌目录
func NewCachedDirectory(dir SubjectDirectory, size int, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{
		dir:  dir,
		memo: expirable.NewLRU[string, directoryEntry](size, nil, ttl),
	}
}

// ResolveBadge 解析工牌，缓存优先
func (d *CachedDirectory) ResolveBadge(ctx context.Context, badgeID string) (string, error) {
	if entry, ok := d.memo.Get(badgeID); ok {
		if entry.unknown {
			return "", fmt.Errorf("badge %s: %w", badgeID, positioning.ErrUnknownSubject)
		}
		return entry.subjectID, nil
	}

	subjectID, err := d.dir.ResolveBadge(ctx, badgeID)
	if err != nil {
		if errors.Is(err, positioning.ErrUnknownSubject) {
			d.memo.Add(badgeID, directoryEntry{unknown: true})
		}
		return "", err
	}

	d.memo.Add(badgeID, directoryEntry{subjectID: subjectID})
	return subjectID, nil
}

// ForgetBadge 清除单个工牌的缓存
func (d *CachedDirectory) ForgetBadge(badgeID string) {
	d.memo.Remove(badgeID)
}

// ForgetSubject 清除所有映射到该 subject 的缓存
func (d *CachedDirectory) ForgetSubject(subjectID string) {
	for _, badgeID := range d.memo.Keys() {
		if entry, ok := d.memo.Peek(badgeID); ok && entry.subjectID == subjectID {
			d.memo.Remove(badgeID)
		}
	}
}

// Len 缓存条目数
func (d *CachedDirectory) Len() int {
	return d.memo.Len()
}
