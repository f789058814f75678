package positioning

import (
	"fmt"
	"math"
	"sort"
	"time"

	"wisefido-badge-locator/internal/config"
	"wisefido-badge-locator/internal/models"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	// minAnchors 二维定位所需的最少基站数
	minAnchors = 3
	// degenerateDet 几何解行列式阈值
	degenerateDet = 1e-6

	defaultTolerance = 1e-9
	initialLambda    = 1e-3
	maxLambda        = 1e10
)

// Solver 多基站三边定位
//
// 主路径：加权非线性最小二乘（投影 Levenberg–Marquardt，迭代点约束在区域内）；
// 失败时退化为三个最近基站的闭式几何解，几何退化时再退化为质心。
type Solver struct {
	zone          config.ZoneBounds
	weight        config.WeightConfig
	maxIterations int
	maxAnchors    int
	tolerance     float64
	logger        *zap.Logger
}

// NewSolver 创建求解器
func NewSolver(zone config.ZoneBounds, weight config.WeightConfig, cfg config.SolverConfig, logger *zap.Logger) *Solver {
	tol := cfg.Tolerance
	if tol <= 0 {
		tol = defaultTolerance
	}
	return &Solver{
		zone:          zone,
		weight:        weight,
		maxIterations: cfg.MaxIterations,
		maxAnchors:    cfg.MaxAnchors,
		tolerance:     tol,
		logger:        logger,
	}
}

// Solve 估算 subject 的位置
//
// readings 少于 3 个时返回 ErrInsufficientAnchors。最小二乘失败与几何退化只记录日志，
// 仍返回回退路径的结果。
func (s *Solver) Solve(subjectID string, readings []models.AnchorReading, at time.Time) (models.PositionEstimate, error) {
	if len(readings) < minAnchors {
		return models.PositionEstimate{}, fmt.Errorf("%d anchors for subject %s: %w", len(readings), subjectID, ErrInsufficientAnchors)
	}

	sorted := sortReadings(readings)
	est := models.PositionEstimate{SubjectID: subjectID, SolvedAt: at}

	x, y, err := s.SolveLeastSquares(s.selectAnchors(sorted))
	if err == nil {
		est.X, est.Y, est.Method = x, y, models.MethodLeastSquares
		return est, nil
	}
	s.logger.Warn("Least squares solve failed, using geometric fallback",
		zap.String("subject_id", subjectID),
		zap.Int("anchors", len(sorted)),
		zap.Error(err),
	)

	x, y, method, err := s.SolveGeometric(sorted)
	if err != nil {
		s.logger.Warn("Anchor geometry is degenerate, using centroid",
			zap.String("subject_id", subjectID),
			zap.Error(err),
		)
	}
	est.X, est.Y, est.Method = x, y, method
	return est, nil
}

// Weight 读数权重，信号越强权重越大
func (s *Solver) Weight(avgRSSI float64) float64 {
	return 1 / (1 + math.Exp(-(avgRSSI-s.weight.Midpoint)/s.weight.Scale))
}

// selectAnchors 超出 MaxAnchors 时保留权重最高的基站
func (s *Solver) selectAnchors(sorted []models.AnchorReading) []models.AnchorReading {
	if s.maxAnchors <= 0 || len(sorted) <= s.maxAnchors {
		return sorted
	}

	ranked := make([]models.AnchorReading, len(sorted))
	copy(ranked, sorted)
	sort.SliceStable(ranked, func(i, j int) bool {
		return s.Weight(ranked[i].AvgRSSI) > s.Weight(ranked[j].AvgRSSI)
	})
	return sortReadings(ranked[:s.maxAnchors])
}

// SolveLeastSquares 最小化 Σ wᵢ(‖p − aᵢ‖ − dᵢ)²
func (s *Solver) SolveLeastSquares(readings []models.AnchorReading) (float64, float64, error) {
	if len(readings) < minAnchors {
		return 0, 0, fmt.Errorf("%d anchors after selection: %w", len(readings), ErrSolverDivergence)
	}

	weights := make([]float64, len(readings))
	for i, r := range readings {
		weights[i] = s.Weight(r.AvgRSSI)
	}

	x, y := s.weightedCentroid(readings, weights)
	cost := s.cost(readings, weights, x, y)
	if !isFinite(cost) {
		return 0, 0, fmt.Errorf("non-finite initial cost: %w", ErrSolverDivergence)
	}
	initialCost := cost
	lambda := initialLambda
	converged := false

	jtwj := mat.NewSymDense(2, nil)
	g := mat.NewVecDense(2, nil)
	var step mat.VecDense
	var chol mat.Cholesky

	for iter := 0; iter < s.maxIterations && !converged; iter++ {
		s.normalEquations(readings, weights, x, y, jtwj, g)
		if floats.Norm(g.RawVector().Data, 2) < s.tolerance {
			converged = true
			break
		}

		for {
			damped := mat.NewSymDense(2, nil)
			damped.CopySym(jtwj)
			for i := 0; i < 2; i++ {
				damped.SetSym(i, i, jtwj.At(i, i)+lambda*math.Max(jtwj.At(i, i), 1e-12))
			}
			if ok := chol.Factorize(damped); !ok {
				return 0, 0, fmt.Errorf("singular normal equations at iteration %d: %w", iter, ErrSolverDivergence)
			}
			if err := chol.SolveVecTo(&step, g); err != nil {
				return 0, 0, fmt.Errorf("failed to solve step at iteration %d: %v: %w", iter, err, ErrSolverDivergence)
			}

			nx, ny := s.zone.Clamp(x-step.AtVec(0), y-step.AtVec(1))
			if !isFinite(nx) || !isFinite(ny) {
				return 0, 0, fmt.Errorf("non-finite iterate at iteration %d: %w", iter, ErrSolverDivergence)
			}
			moved := math.Hypot(nx-x, ny-y)
			if moved < s.tolerance {
				converged = true
				break
			}

			newCost := s.cost(readings, weights, nx, ny)
			if !isFinite(newCost) {
				return 0, 0, fmt.Errorf("non-finite cost at iteration %d: %w", iter, ErrSolverDivergence)
			}
			if newCost < cost {
				x, y, cost = nx, ny, newCost
				lambda = math.Max(lambda/10, 1e-12)
				break
			}

			lambda *= 10
			if lambda > maxLambda {
				converged = true
				break
			}
		}
	}

	if !converged && cost >= initialCost {
		return 0, 0, fmt.Errorf("no improvement after %d iterations: %w", s.maxIterations, ErrSolverDivergence)
	}
	return x, y, nil
}

// SolveGeometric 取三个最近基站，两两相减圆方程得到线性方程组，按克莱姆法则求解
//
// 行列式接近 0（共线或重合）时返回三个基站的质心及 ErrDegenerateGeometry。
func (s *Solver) SolveGeometric(readings []models.AnchorReading) (float64, float64, models.SolveMethod, error) {
	if len(readings) < minAnchors {
		return 0, 0, "", ErrInsufficientAnchors
	}
	r := sortReadings(readings)[:minAnchors]

	x1, y1, r1 := r[0].AnchorX, r[0].AnchorY, r[0].Distance
	x2, y2, r2 := r[1].AnchorX, r[1].AnchorY, r[1].Distance
	x3, y3, r3 := r[2].AnchorX, r[2].AnchorY, r[2].Distance

	a := 2 * (x2 - x1)
	b := 2 * (y2 - y1)
	c := r1*r1 - r2*r2 - x1*x1 + x2*x2 - y1*y1 + y2*y2
	d := 2 * (x3 - x2)
	e := 2 * (y3 - y2)
	f := r2*r2 - r3*r3 - x2*x2 + x3*x3 - y2*y2 + y3*y3

	det := a*e - b*d
	if math.Abs(det) < degenerateDet {
		cx, cy := s.zone.Clamp((x1+x2+x3)/3, (y1+y2+y3)/3)
		return cx, cy, models.MethodCentroid, fmt.Errorf("determinant %g: %w", det, ErrDegenerateGeometry)
	}

	x := (c*e - f*b) / det
	y := (a*f - d*c) / det
	x, y = s.zone.Clamp(x, y)
	return x, y, models.MethodGeometric, nil
}

func (s *Solver) weightedCentroid(readings []models.AnchorReading, weights []float64) (float64, float64) {
	var sx, sy float64
	total := floats.Sum(weights)
	for i, r := range readings {
		sx += weights[i] * r.AnchorX
		sy += weights[i] * r.AnchorY
	}
	if total <= 0 {
		for _, r := range readings {
			sx += r.AnchorX
			sy += r.AnchorY
		}
		total = float64(len(readings))
	}
	return s.zone.Clamp(sx/total, sy/total)
}

func (s *Solver) cost(readings []models.AnchorReading, weights []float64, x, y float64) float64 {
	var sum float64
	for i, r := range readings {
		res := math.Hypot(x-r.AnchorX, y-r.AnchorY) - r.Distance
		sum += weights[i] * res * res
	}
	return sum
}

// normalEquations 计算 JᵀWJ 与 JᵀWr
func (s *Solver) normalEquations(readings []models.AnchorReading, weights []float64, x, y float64, jtwj *mat.SymDense, g *mat.VecDense) {
	var a00, a01, a11, g0, g1 float64
	for i, r := range readings {
		dx, dy := x-r.AnchorX, y-r.AnchorY
		dist := math.Hypot(dx, dy)
		if dist < 1e-12 {
			continue
		}
		jx, jy := dx/dist, dy/dist
		res := dist - r.Distance
		w := weights[i]

		a00 += w * jx * jx
		a01 += w * jx * jy
		a11 += w * jy * jy
		g0 += w * jx * res
		g1 += w * jy * res
	}
	jtwj.SetSym(0, 0, a00)
	jtwj.SetSym(0, 1, a01)
	jtwj.SetSym(1, 1, a11)
	g.SetVec(0, g0)
	g.SetVec(1, g1)
}

// sortReadings 按距离、基站 ID 排序（返回副本）
func sortReadings(readings []models.AnchorReading) []models.AnchorReading {
	sorted := make([]models.AnchorReading, len(readings))
	copy(sorted, readings)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Distance != sorted[j].Distance {
			return sorted[i].Distance < sorted[j].Distance
		}
		return sorted[i].AnchorID < sorted[j].AnchorID
	})
	return sorted
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

