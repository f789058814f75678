package positioning

import (
	"testing"
	"time"

	"wisefido-badge-locator/internal/config"
	"wisefido-badge-locator/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSmoother(kalmanGain float64) *Smoother {
	p := config.DefaultPositioning()
	p.Calibration.KalmanGain = kalmanGain
	return NewSmoother(p.Zone, p.Calibration)
}

func estimateAt(x, y float64, at time.Time) models.PositionEstimate {
	return models.PositionEstimate{SubjectID: "s1", X: x, Y: y, SolvedAt: at, Method: models.MethodLeastSquares}
}

func TestSmoother_FirstFixAccepted(t *testing.T) {
	s := newTestSmoother(0)
	at := time.Now()

	res := s.Apply(estimateAt(0.4, 0.7, at), models.SubjectPositionState{SubjectID: "s1"}, -75)
	require.True(t, res.Accepted)
	x, y, ok := res.State.XY()
	require.True(t, ok)
	assert.Equal(t, 0.4, x)
	assert.Equal(t, 0.7, y)
	assert.True(t, res.State.LastSeenAt.Equal(at))
	assert.Equal(t, TierWeak, res.Tier)
}

func TestSmoother_FirstFixClamped(t *testing.T) {
	s := newTestSmoother(0)
	res := s.Apply(estimateAt(1.3, -0.2, time.Now()), models.SubjectPositionState{SubjectID: "s1"}, -50)
	require.True(t, res.Accepted)
	x, y, _ := res.State.XY()
	assert.Equal(t, 1.0, x)
	assert.Equal(t, 0.0, y)
}

func TestSmoother_NoMovementRejected(t *testing.T) {
	s := newTestSmoother(0)
	at := time.Now()
	prev := models.NewSubjectPositionState("s1", 0.5, 0.5, at)

	for _, rssi := range []float64{-50, -65, -90} {
		res := s.Apply(estimateAt(0.5, 0.5, at.Add(time.Second)), prev, rssi)
		assert.False(t, res.Accepted, "rssi %g", rssi)
		assert.Equal(t, 0.0, res.Displacement)
		assert.Equal(t, prev, res.State)
	}
}

func TestSmoother_BlendsTowardsNewEstimate(t *testing.T) {
	s := newTestSmoother(0)
	at := time.Now()
	prev := models.NewSubjectPositionState("s1", 0.2, 0.2, at)

	// excellent: α = 0.6
	res := s.Apply(estimateAt(0.7, 0.2, at.Add(time.Second)), prev, -55)
	require.True(t, res.Accepted)
	assert.Equal(t, TierExcellent, res.Tier)
	x, y, _ := res.State.XY()
	assert.InDelta(t, 0.5, x, 1e-12)
	assert.InDelta(t, 0.2, y, 1e-12)
	assert.InDelta(t, 0.3, res.Displacement, 1e-12)
	assert.True(t, res.State.LastSeenAt.Equal(at.Add(time.Second)))
}

func TestSmoother_TierGating(t *testing.T) {
	s := newTestSmoother(0)
	at := time.Now()
	prev := models.NewSubjectPositionState("s1", 0.5, 0.5, at)
	est := estimateAt(0.55, 0.5, at.Add(time.Second))

	// excellent: 0.6 × 0.05 = 0.03 ≥ 0.02
	strong := s.Apply(est, prev, -55)
	assert.True(t, strong.Accepted)
	assert.Equal(t, TierExcellent, strong.Tier)

	// good: 0.4 × 0.05 = 0.02 < 0.04
	medium := s.Apply(est, prev, -65)
	assert.False(t, medium.Accepted)
	assert.Equal(t, TierGood, medium.Tier)

	// weak: 0.25 × 0.05 = 0.0125 < 0.08
	weak := s.Apply(est, prev, -85)
	assert.False(t, weak.Accepted)
	assert.Equal(t, TierWeak, weak.Tier)

	// weak 需要更大的位移：0.25 × 0.4 = 0.1 ≥ 0.08
	far := s.Apply(estimateAt(0.9, 0.5, at.Add(time.Second)), prev, -85)
	assert.True(t, far.Accepted)
}

func TestSmoother_Classify(t *testing.T) {
	s := newTestSmoother(0)

	tests := []struct {
		rssi float64
		want TierName
	}{
		{-40, TierExcellent},
		{-59.9, TierExcellent},
		{-60, TierGood},
		{-69.9, TierGood},
		{-70, TierWeak},
		{-100, TierWeak},
	}
	for _, tt := range tests {
		got, _ := s.Classify(tt.rssi)
		assert.Equal(t, tt.want, got, "rssi %g", tt.rssi)
	}
}

func TestSmoother_KalmanPreFilter(t *testing.T) {
	s := newTestSmoother(0.5)
	at := time.Now()
	prev := models.NewSubjectPositionState("s1", 0.5, 0.5, at)

	// corrected = 0.5 + 0.5 × 0.1 = 0.55，smoothed = 0.5 + 0.6 × 0.05 = 0.53
	res := s.Apply(estimateAt(0.6, 0.5, at.Add(time.Second)), prev, -55)
	require.True(t, res.Accepted)
	x, _, _ := res.State.XY()
	assert.InDelta(t, 0.53, x, 1e-12)

	// 关闭预滤波时 smoothed = 0.5 + 0.6 × 0.1 = 0.56
	res = newTestSmoother(0).Apply(estimateAt(0.6, 0.5, at.Add(time.Second)), prev, -55)
	x, _, _ = res.State.XY()
	assert.InDelta(t, 0.56, x, 1e-12)
}
