package positioning

import (
	"sync"
	"time"

	"wisefido-badge-locator/internal/models"
)

// Window 按 subject 保存滑动窗口内的测量
type Window struct {
	duration time.Duration

	mu           sync.Mutex
	measurements map[string][]models.Measurement
}

// NewWindow 创建滑动窗口
func NewWindow(duration time.Duration) *Window {
	return &Window{
		duration:     duration,
		measurements: make(map[string][]models.Measurement),
	}
}

// Add 追加测量
func (w *Window) Add(m models.Measurement) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.measurements[m.SubjectID] = append(w.measurements[m.SubjectID], m)
}

// Snapshot 返回 now − ObservedAt ≤ duration 的测量，并丢弃过期的
func (w *Window) Snapshot(subjectID string, now time.Time) []models.Measurement {
	w.mu.Lock()
	defer w.mu.Unlock()

	all := w.measurements[subjectID]
	live := all[:0]
	for _, m := range all {
		if now.Sub(m.ObservedAt) <= w.duration {
			live = append(live, m)
		}
	}
	if len(live) == 0 {
		delete(w.measurements, subjectID)
		return nil
	}
	w.measurements[subjectID] = live

	out := make([]models.Measurement, len(live))
	copy(out, live)
	return out
}

// Forget 清除 subject 的所有测量
func (w *Window) Forget(subjectID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.measurements, subjectID)
}

// Subjects 当前窗口中的 subject 数
func (w *Window) Subjects() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.measurements)
}
