package positioning

import (
	"errors"
	"math"
	"testing"
	"time"

	"wisefido-badge-locator/internal/config"
	"wisefido-badge-locator/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type anchor struct {
	id   string
	x, y float64
}

var unitSquareAnchors = []anchor{
	{"A1", 0, 0},
	{"A2", 1, 0},
	{"A3", 0, 1},
}

func newTestSolver(cfg config.SolverConfig) *Solver {
	p := config.DefaultPositioning()
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = p.Solver.MaxIterations
	}
	return NewSolver(p.Zone, p.Calibration.Weight, cfg, zap.NewNop())
}

// exactReadings 按真实位置生成无噪声读数
func exactReadings(px, py float64, anchors []anchor) []models.AnchorReading {
	out := make([]models.AnchorReading, len(anchors))
	for i, a := range anchors {
		out[i] = models.AnchorReading{
			AnchorID: a.id,
			AnchorX:  a.x,
			AnchorY:  a.y,
			Distance: math.Hypot(px-a.x, py-a.y),
			AvgRSSI:  -60,
			Samples:  1,
		}
	}
	return out
}

func TestSolver_InsufficientAnchors(t *testing.T) {
	s := newTestSolver(config.SolverConfig{})
	_, err := s.Solve("s1", exactReadings(0.5, 0.5, unitSquareAnchors[:2]), time.Now())
	assert.True(t, errors.Is(err, ErrInsufficientAnchors))
}

func TestSolver_LeastSquaresRecoversExactPosition(t *testing.T) {
	s := newTestSolver(config.SolverConfig{})
	at := time.Now()

	points := [][2]float64{{0.3, 0.6}, {0.5, 0.5}, {0.8, 0.2}, {0.1, 0.9}}
	for _, p := range points {
		est, err := s.Solve("s1", exactReadings(p[0], p[1], unitSquareAnchors), at)
		require.NoError(t, err)
		assert.Equal(t, models.MethodLeastSquares, est.Method)
		assert.InDelta(t, p[0], est.X, 1e-3, "x for %v", p)
		assert.InDelta(t, p[1], est.Y, 1e-3, "y for %v", p)
		assert.Equal(t, "s1", est.SubjectID)
		assert.True(t, est.SolvedAt.Equal(at))
	}
}

func TestSolver_LeastSquaresWithFourAnchors(t *testing.T) {
	s := newTestSolver(config.SolverConfig{})
	anchors := append([]anchor{}, unitSquareAnchors...)
	anchors = append(anchors, anchor{"A4", 1, 1})

	x, y, err := s.SolveLeastSquares(exactReadings(0.7, 0.35, anchors))
	require.NoError(t, err)
	assert.InDelta(t, 0.7, x, 1e-3)
	assert.InDelta(t, 0.35, y, 1e-3)
}

func TestSolver_GeometricRecoversExactPosition(t *testing.T) {
	s := newTestSolver(config.SolverConfig{})

	x, y, method, err := s.SolveGeometric(exactReadings(0.3, 0.6, unitSquareAnchors))
	require.NoError(t, err)
	assert.Equal(t, models.MethodGeometric, method)
	assert.InDelta(t, 0.3, x, 1e-3)
	assert.InDelta(t, 0.6, y, 1e-3)
}

func TestSolver_Deterministic(t *testing.T) {
	s := newTestSolver(config.SolverConfig{})
	anchors := []anchor{{"A1", 0, 0}, {"A2", 1, 0}, {"A3", 0, 1}, {"A4", 1, 1}}
	readings := exactReadings(0.42, 0.61, anchors)
	// 加入噪声，使解不再唯一地落在真值上
	readings[0].Distance += 0.05
	readings[3].Distance -= 0.03
	readings[2].AvgRSSI = -72

	at := time.Now()
	first, err := s.Solve("s1", readings, at)
	require.NoError(t, err)

	permuted := []models.AnchorReading{readings[2], readings[0], readings[3], readings[1]}
	for i := 0; i < 5; i++ {
		again, err := s.Solve("s1", permuted, at)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSolver_ClampsToZone(t *testing.T) {
	s := newTestSolver(config.SolverConfig{})
	zone := config.DefaultPositioning().Zone

	// 真实位置在区域外
	readings := exactReadings(1.6, 1.4, unitSquareAnchors)
	est, err := s.Solve("s1", readings, time.Now())
	require.NoError(t, err)
	assert.True(t, zone.Contains(est.X, est.Y), "got (%g, %g)", est.X, est.Y)

	x, y, _, err := s.SolveGeometric(readings)
	require.NoError(t, err)
	assert.True(t, zone.Contains(x, y), "got (%g, %g)", x, y)
}

func TestSolver_CollinearAnchorsDegenerate(t *testing.T) {
	s := newTestSolver(config.SolverConfig{})
	collinear := []anchor{{"A1", 0, 0}, {"A2", 0.5, 0}, {"A3", 1, 0}}
	readings := exactReadings(0.4, 0.3, collinear)

	x, y, method, err := s.SolveGeometric(readings)
	assert.True(t, errors.Is(err, ErrDegenerateGeometry))
	assert.Equal(t, models.MethodCentroid, method)
	assert.InDelta(t, 0.5, x, 1e-12)
	assert.InDelta(t, 0.0, y, 1e-12)

	// Solve 不返回错误，结果有限且在区域内
	est, err := s.Solve("s1", readings, time.Now())
	require.NoError(t, err)
	assert.False(t, math.IsNaN(est.X) || math.IsNaN(est.Y))
	assert.True(t, config.DefaultPositioning().Zone.Contains(est.X, est.Y))
}

func TestSolver_FallsBackToGeometricOnDivergence(t *testing.T) {
	s := newTestSolver(config.SolverConfig{})
	anchors := []anchor{{"A1", 0, 0}, {"A2", 1, 0}, {"A3", 0, 1}, {"A4", 1, 1}}
	readings := exactReadings(0.25, 0.4, anchors)
	// 最远的读数不可用，最小二乘代价非有限
	readings[3].Distance = math.Inf(1)

	_, _, err := s.SolveLeastSquares(sortReadings(readings))
	assert.True(t, errors.Is(err, ErrSolverDivergence))

	est, err := s.Solve("s1", readings, time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.MethodGeometric, est.Method)
	assert.InDelta(t, 0.25, est.X, 1e-3)
	assert.InDelta(t, 0.4, est.Y, 1e-3)
}

func TestSolver_MaxAnchorsDropsWeakestReadings(t *testing.T) {
	anchors := []anchor{{"A1", 0, 0}, {"A2", 1, 0}, {"A3", 0, 1}, {"A4", 1, 1}, {"A5", 0.5, 0}}
	readings := exactReadings(0.6, 0.7, anchors)
	for i := range readings {
		readings[i].AvgRSSI = -55
	}
	// 弱信号基站给出错误距离
	readings[4].Distance = 0.05
	readings[4].AvgRSSI = -95

	s := newTestSolver(config.SolverConfig{MaxAnchors: 4})
	est, err := s.Solve("s1", readings, time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.MethodLeastSquares, est.Method)
	assert.InDelta(t, 0.6, est.X, 1e-3)
	assert.InDelta(t, 0.7, est.Y, 1e-3)
}

func TestSolver_WeightIncreasesWithSignal(t *testing.T) {
	s := newTestSolver(config.SolverConfig{})
	assert.Greater(t, s.Weight(-50), s.Weight(-70))
	assert.Greater(t, s.Weight(-70), s.Weight(-90))
	assert.InDelta(t, 0.5, s.Weight(-70), 1e-12)
}

func TestSortReadings(t *testing.T) {
	in := []models.AnchorReading{
		{AnchorID: "B", Distance: 1},
		{AnchorID: "A", Distance: 1},
		{AnchorID: "C", Distance: 0.5},
	}
	out := sortReadings(in)
	assert.Equal(t, []string{"C", "A", "B"}, []string{out[0].AnchorID, out[1].AnchorID, out[2].AnchorID})
	assert.Equal(t, "B", in[0].AnchorID, "input must not be reordered")
}
