package zones

import (
	"fmt"
	"strings"

	"wisefido-badge-locator/internal/config"
)

// Type 区域类型
type Type string

const (
	TypeSafe      Type = "SAFE"
	TypeWarning   Type = "WARNING"
	TypeForbidden Type = "FORBIDDEN"
)

// severity 重叠区域按严重程度取最高者
func (t Type) severity() int {
	switch t {
	case TypeForbidden:
		return 3
	case TypeWarning:
		return 2
	case TypeSafe:
		return 1
	default:
		return 0
	}
}

// Zone 平面图上的命名矩形区域
//
// 包含判断为左闭右开：MinX ≤ x < MaxX, MinY ≤ y < MaxY。
type Zone struct {
	Name string
	Type Type
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

// Contains 点是否在区域内
func (z Zone) Contains(x, y float64) bool {
	return x >= z.MinX && x < z.MaxX && y >= z.MinY && y < z.MaxY
}

// Map 区域集合
type Map struct {
	zones []Zone
}

// NewMap 从配置构建区域集合
func NewMap(named []config.NamedZone) (*Map, error) {
	m := &Map{zones: make([]Zone, 0, len(named))}
	for _, nz := range named {
		t := Type(strings.ToUpper(nz.Type))
		if t.severity() == 0 {
			return nil, fmt.Errorf("zone %q has unknown type %q", nz.Name, nz.Type)
		}
		m.zones = append(m.zones, Zone{
			Name: nz.Name,
			Type: t,
			MinX: nz.MinX,
			MinY: nz.MinY,
			MaxX: nz.MaxX,
			MaxY: nz.MaxY,
		})
	}
	return m, nil
}

// Len 区域数量
func (m *Map) Len() int {
	return len(m.zones)
}

// Classify 返回包含该点的最严重区域；不在任何区域内时 ok=false
func (m *Map) Classify(x, y float64) (Zone, bool) {
	var best Zone
	found := false
	for _, z := range m.zones {
		if !z.Contains(x, y) {
			continue
		}
		if !found || z.Type.severity() > best.Type.severity() {
			best = z
			found = true
		}
	}
	return best, found
}

// EnteredForbidden 从非禁区移动到禁区时返回该禁区
//
// 没有上一位置时，只要当前位置在禁区内即视为进入。
func (m *Map) EnteredForbidden(prevX, prevY float64, hasPrev bool, x, y float64) (Zone, bool) {
	cur, ok := m.Classify(x, y)
	if !ok || cur.Type != TypeForbidden {
		return Zone{}, false
	}
	if hasPrev {
		if prev, ok := m.Classify(prevX, prevY); ok && prev.Type == TypeForbidden {
			return Zone{}, false
		}
	}
	return cur, true
}
