package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"wisefido-badge-locator/internal/positioning"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDirectory 内存工牌目录，记录查询次数
type fakeDirectory struct {
	mu       sync.Mutex
	badges   map[string]string
	failWith error
	calls    map[string]int
}

func newFakeDirectory(badges map[string]string) *fakeDirectory {
	return &fakeDirectory{badges: badges, calls: make(map[string]int)}
}

func (d *fakeDirectory) ResolveBadge(_ context.Context, badgeID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[badgeID]++
	if d.failWith != nil {
		return "", d.failWith
	}
	subjectID, ok := d.badges[badgeID]
	if !ok {
		return "", fmt.Errorf("badge %s: %w", badgeID, positioning.ErrUnknownSubject)
	}
	return subjectID, nil
}

func (d *fakeDirectory) callCount(badgeID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[badgeID]
}

func TestCachedDirectory_MemoisesHits(t *testing.T) {
	inner := newFakeDirectory(map[string]string{"B-01": "subject-1"})
	dir := NewCachedDirectory(inner, 16, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		subjectID, err := dir.ResolveBadge(ctx, "B-01")
		require.NoError(t, err)
		assert.Equal(t, "subject-1", subjectID)
	}
	assert.Equal(t, 1, inner.callCount("B-01"))
	assert.Equal(t, 1, dir.Len())
}

func TestCachedDirectory_MemoisesUnknown(t *testing.T) {
	inner := newFakeDirectory(map[string]string{})
	dir := NewCachedDirectory(inner, 16, time.Minute)
	ctx := context.Background()

	_, err := dir.ResolveBadge(ctx, "B-99")
	assert.True(t, errors.Is(err, positioning.ErrUnknownSubject))
	_, err = dir.ResolveBadge(ctx, "B-99")
	assert.True(t, errors.Is(err, positioning.ErrUnknownSubject))

	assert.Equal(t, 1, inner.callCount("B-99"))
}

func TestCachedDirectory_DoesNotMemoiseFailures(t *testing.T) {
	inner := newFakeDirectory(map[string]string{"B-01": "subject-1"})
	inner.failWith = errors.New("connection refused")
	dir := NewCachedDirectory(inner, 16, time.Minute)
	ctx := context.Background()

	_, err := dir.ResolveBadge(ctx, "B-01")
	require.Error(t, err)
	assert.False(t, errors.Is(err, positioning.ErrUnknownSubject))

	inner.failWith = nil
	subjectID, err := dir.ResolveBadge(ctx, "B-01")
	require.NoError(t, err)
	assert.Equal(t, "subject-1", subjectID)
	assert.Equal(t, 2, inner.callCount("B-01"))
}

func TestCachedDirectory_Forget(t *testing.T) {
	inner := newFakeDirectory(map[string]string{"B-01": "subject-1", "B-02": "subject-1", "B-03": "subject-2"})
	dir := NewCachedDirectory(inner, 16, time.Minute)
	ctx := context.Background()

	for _, badge := range []string{"B-01", "B-02", "B-03"} {
		_, err := dir.ResolveBadge(ctx, badge)
		require.NoError(t, err)
	}
	require.Equal(t, 3, dir.Len())

	dir.ForgetSubject("subject-1")
	assert.Equal(t, 1, dir.Len())

	dir.ForgetBadge("B-03")
	assert.Equal(t, 0, dir.Len())

	// 改绑后重新查询
	inner.badges["B-03"] = "subject-3"
	subjectID, err := dir.ResolveBadge(ctx, "B-03")
	require.NoError(t, err)
	assert.Equal(t, "subject-3", subjectID)
}
