package positioning

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"wisefido-badge-locator/internal/cache"
	"wisefido-badge-locator/internal/config"
	"wisefido-badge-locator/internal/models"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// shardCount subject 锁分片数
const shardCount = 64

// PositionStore 位置状态持久化接口
type PositionStore interface {
	// GetLastPosition 无记录时返回空状态和 nil
	GetLastPosition(ctx context.Context, subjectID string) (models.SubjectPositionState, error)
	// UpsertPosition 已有更新的状态时返回 false
	UpsertPosition(ctx context.Context, subjectID string, x, y float64, at time.Time) (bool, error)
}

// OutcomeStatus 单个 subject 的处理结果
type OutcomeStatus string

const (
	StatusAccepted OutcomeStatus = "accepted"
	StatusRejected OutcomeStatus = "rejected"
	StatusSkipped  OutcomeStatus = "skipped"
	StatusFailed   OutcomeStatus = "failed"
)

// Outcome 一次计算周期中单个 subject 的结果
type Outcome struct {
	SubjectID    string
	Status       OutcomeStatus
	Reason       error
	Estimate     *models.PositionEstimate
	State        models.SubjectPositionState // 接受时为新状态，否则为上一状态
	Previous     models.SubjectPositionState
	Tier         TierName
	Displacement float64
}

// Recorder 流水线指标
type Recorder interface {
	ObserveBatch()
	ObserveDiscarded(reason string)
	ObserveSolve(method models.SolveMethod, elapsed time.Duration)
	ObserveOutcome(status OutcomeStatus)
}

type nopRecorder struct{}

func (nopRecorder) ObserveBatch() {}
func (nopRecorder) ObserveDiscarded(string) {}
func (nopRecorder) ObserveSolve(models.SolveMethod, time.Duration) {}
func (nopRecorder) ObserveOutcome(OutcomeStatus) {}

// AcceptedHook 位置写入成功后的回调
type AcceptedHook func(ctx context.Context, outcome Outcome)

// Option 流水线选项
type Option func(*Pipeline)

// WithAcceptedHook 注册写入成功回调，按注册顺序调用
func WithAcceptedHook(hook AcceptedHook) Option {
	return func(p *Pipeline) {
		p.hooks = append(p.hooks, hook)
	}
}

// WithRecorder 设置指标记录器
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) {
		p.recorder = r
	}
}

// Pipeline RSSI → 位置 计算流水线
type Pipeline struct {
	estimator *DistanceEstimator
	solver    *Solver
	smoother  *Smoother
	window    *Window
	sigmaK    float64

	store    PositionStore
	cache    cache.PositionCache
	logger   *zap.Logger
	recorder Recorder
	hooks    []AcceptedHook

	shards [shardCount]sync.Mutex
}

// NewPipeline 创建流水线
func NewPipeline(cfg config.PositioningConfig, store PositionStore, positionCache cache.PositionCache, logger *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		estimator: NewDistanceEstimator(cfg.Calibration),
		solver:    NewSolver(cfg.Zone, cfg.Calibration.Weight, cfg.Solver, logger),
		smoother:  NewSmoother(cfg.Zone, cfg.Calibration),
		window:    NewWindow(cfg.Window),
		sigmaK:    cfg.Calibration.SigmaK,
		store:     store,
		cache:     positionCache,
		logger:    logger,
		recorder:  nopRecorder{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessBatch 处理一个基站批次
//
// 非法读数被丢弃，不影响同批次的其他读数。批次中每个 subject 独立处理，
// 单个 subject 失败不会中断批次。
func (p *Pipeline) ProcessBatch(ctx context.Context, batch models.AnchorBatch) []Outcome {
	p.recorder.ObserveBatch()

	var subjects []string
	seen := make(map[string]struct{})
	for _, r := range batch.Readings {
		if err := ValidateRSSI(r.RSSI); err != nil {
			p.recorder.ObserveDiscarded("invalid_rssi")
			p.logger.Debug("Discarding reading",
				zap.String("subject_id", r.SubjectID),
				zap.String("anchor_id", batch.AnchorID),
				zap.Int32("rssi", r.RSSI),
				zap.Error(err),
			)
			continue
		}

		p.window.Add(models.Measurement{
			SubjectID:  r.SubjectID,
			AnchorID:   batch.AnchorID,
			AnchorX:    batch.AnchorX,
			AnchorY:    batch.AnchorY,
			RSSI:       r.RSSI,
			ObservedAt: batch.ObservedAt,
		})
		if _, ok := seen[r.SubjectID]; !ok {
			seen[r.SubjectID] = struct{}{}
			subjects = append(subjects, r.SubjectID)
		}
	}

	outcomes := make([]Outcome, 0, len(subjects))
	for _, subjectID := range subjects {
		outcome := p.processSubject(ctx, subjectID, batch.ObservedAt)
		p.recorder.ObserveOutcome(outcome.Status)

		switch outcome.Status {
		case StatusAccepted:
			for _, hook := range p.hooks {
				hook(ctx, outcome)
			}
		case StatusFailed:
			p.logger.Warn("Failed to update subject position",
				zap.String("subject_id", subjectID),
				zap.Error(outcome.Reason),
			)
		default:
			p.logger.Debug("Subject position not updated",
				zap.String("subject_id", subjectID),
				zap.String("status", string(outcome.Status)),
				zap.Error(outcome.Reason),
			)
		}
		outcomes = append(outcomes, outcome)
	}

	return outcomes
}

// processSubject 在 subject 分片锁内完成一次计算
func (p *Pipeline) processSubject(ctx context.Context, subjectID string, at time.Time) Outcome {
	lock := p.shard(subjectID)
	lock.Lock()
	defer lock.Unlock()

	outcome := Outcome{SubjectID: subjectID}

	readings := p.aggregate(p.window.Snapshot(subjectID, at))
	if len(readings) < minAnchors {
		outcome.Status = StatusSkipped
		outcome.Reason = fmt.Errorf("%d anchors in window: %w", len(readings), ErrInsufficientAnchors)
		return outcome
	}

	start := time.Now()
	est, err := p.solver.Solve(subjectID, readings, at)
	if err != nil {
		outcome.Status = StatusSkipped
		outcome.Reason = err
		return outcome
	}
	p.recorder.ObserveSolve(est.Method, time.Since(start))
	outcome.Estimate = &est

	prev, err := p.previousState(ctx, subjectID)
	if err != nil {
		outcome.Status = StatusFailed
		outcome.Reason = fmt.Errorf("failed to load previous position: %w", err)
		return outcome
	}
	outcome.Previous = prev
	outcome.State = prev

	if prev.HasPosition() && est.SolvedAt.Before(prev.LastSeenAt) {
		outcome.Status = StatusSkipped
		outcome.Reason = fmt.Errorf("estimate at %s before last seen %s: %w",
			est.SolvedAt.Format(time.RFC3339Nano), prev.LastSeenAt.Format(time.RFC3339Nano), ErrStaleEstimate)
		return outcome
	}

	avgRSSI := make([]float64, len(readings))
	for i, r := range readings {
		avgRSSI[i] = r.AvgRSSI
	}
	result := p.smoother.Apply(est, prev, stat.Mean(avgRSSI, nil))
	outcome.Tier = result.Tier
	outcome.Displacement = result.Displacement
	if !result.Accepted {
		outcome.Status = StatusRejected
		return outcome
	}

	x, y, _ := result.State.XY()
	written, err := p.store.UpsertPosition(ctx, subjectID, x, y, result.State.LastSeenAt)
	if err != nil {
		outcome.Status = StatusFailed
		outcome.Reason = fmt.Errorf("failed to store position: %w", err)
		return outcome
	}
	if !written {
		outcome.Status = StatusSkipped
		outcome.Reason = fmt.Errorf("store holds a newer position: %w", ErrStaleEstimate)
		return outcome
	}

	p.cache.Set(subjectID, cache.CachedPosition{X: x, Y: y, AcceptedAt: result.State.LastSeenAt})
	outcome.Status = StatusAccepted
	outcome.State = result.State
	return outcome
}

// aggregate 计算距离、按基站分组并剔除离群值
func (p *Pipeline) aggregate(measurements []models.Measurement) []models.AnchorReading {
	type group struct {
		x, y    float64
		latest  time.Time
		samples []Sample
	}
	groups := make(map[string]*group)

	for _, m := range measurements {
		d := p.estimator.Estimate(m.RSSI)
		if d < 0 {
			p.recorder.ObserveDiscarded("sensor_fault")
			continue
		}
		g, ok := groups[m.AnchorID]
		if !ok {
			g = &group{}
			groups[m.AnchorID] = g
		}
		// 基站坐标以最新上报为准
		if !m.ObservedAt.Before(g.latest) {
			g.x, g.y, g.latest = m.AnchorX, m.AnchorY, m.ObservedAt
		}
		g.samples = append(g.samples, Sample{Distance: d, RSSI: float64(m.RSSI)})
	}

	readings := make([]models.AnchorReading, 0, len(groups))
	for anchorID, g := range groups {
		f := FilterAnchorSamples(g.samples, p.sigmaK)
		readings = append(readings, models.AnchorReading{
			AnchorID: anchorID,
			AnchorX:  g.x,
			AnchorY:  g.y,
			Distance: f.Distance,
			AvgRSSI:  f.RSSI,
			Samples:  f.Count,
		})
	}
	sort.Slice(readings, func(i, j int) bool { return readings[i].AnchorID < readings[j].AnchorID })
	return readings
}

// previousState 优先读缓存，未命中时读存储
func (p *Pipeline) previousState(ctx context.Context, subjectID string) (models.SubjectPositionState, error) {
	if cached, ok := p.cache.Get(subjectID); ok {
		return models.NewSubjectPositionState(subjectID, cached.X, cached.Y, cached.AcceptedAt), nil
	}
	return p.store.GetLastPosition(ctx, subjectID)
}

// LastPosition 供观察者读取的最近位置（缓存优先）
func (p *Pipeline) LastPosition(ctx context.Context, subjectID string) (models.SubjectPositionState, error) {
	return p.previousState(ctx, subjectID)
}

// Invalidate 清除 subject 的缓存与窗口测量（subject 被修改或删除时调用）
func (p *Pipeline) Invalidate(subjectID string) {
	lock := p.shard(subjectID)
	lock.Lock()
	defer lock.Unlock()

	p.cache.Invalidate(subjectID)
	p.window.Forget(subjectID)
}

func (p *Pipeline) shard(subjectID string) *sync.Mutex {
	return &p.shards[xxhash.Sum64String(subjectID)%shardCount]
}
