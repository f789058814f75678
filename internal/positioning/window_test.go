package positioning

import (
	"testing"
	"time"

	"wisefido-badge-locator/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindow_SnapshotPrunesExpired(t *testing.T) {
	w := NewWindow(3 * time.Second)
	t0 := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

	w.Add(models.Measurement{SubjectID: "s1", AnchorID: "A1", RSSI: -60, ObservedAt: t0})
	w.Add(models.Measurement{SubjectID: "s1", AnchorID: "A2", RSSI: -61, ObservedAt: t0.Add(2 * time.Second)})
	w.Add(models.Measurement{SubjectID: "s2", AnchorID: "A1", RSSI: -70, ObservedAt: t0})

	snap := w.Snapshot("s1", t0.Add(4*time.Second))
	require.Len(t, snap, 1)
	assert.Equal(t, "A2", snap[0].AnchorID)

	// 过期的测量已被删除
	snap = w.Snapshot("s1", t0.Add(2*time.Second))
	assert.Len(t, snap, 1)

	// 边界：恰好等于窗口长度时保留
	snap = w.Snapshot("s2", t0.Add(3*time.Second))
	assert.Len(t, snap, 1)
}

func TestWindow_EmptySubjectRemoved(t *testing.T) {
	w := NewWindow(time.Second)
	t0 := time.Now()

	w.Add(models.Measurement{SubjectID: "s1", ObservedAt: t0})
	assert.Equal(t, 1, w.Subjects())

	assert.Nil(t, w.Snapshot("s1", t0.Add(5*time.Second)))
	assert.Equal(t, 0, w.Subjects())
}

func TestWindow_SnapshotIsCopy(t *testing.T) {
	w := NewWindow(time.Minute)
	t0 := time.Now()
	w.Add(models.Measurement{SubjectID: "s1", RSSI: -60, ObservedAt: t0})

	snap := w.Snapshot("s1", t0)
	snap[0].RSSI = -99

	again := w.Snapshot("s1", t0)
	assert.Equal(t, int32(-60), again[0].RSSI)
}

func TestWindow_Forget(t *testing.T) {
	w := NewWindow(time.Minute)
	t0 := time.Now()
	w.Add(models.Measurement{SubjectID: "s1", ObservedAt: t0})
	w.Forget("s1")

	assert.Empty(t, w.Snapshot("s1", t0))
}
