// Package roi 管理实验中的物体区域(ROI)
package roi

import "math"

// ClassNearMatch 该类别的区域按“接近”判定，其它类别要求点严格位于区域内
const ClassNearMatch = 0

// Box 像素坐标矩形，坐标顺序不要求有序
type Box struct {
	X1 float64 `json:"x1" yaml:"x1"`
	Y1 float64 `json:"y1" yaml:"y1"`
	X2 float64 `json:"x2" yaml:"x2"`
	Y2 float64 `json:"y2" yaml:"y2"`
}

// ROI 一个物体区域
type ROI struct {
	Key        string     `json:"-"`
	Name       string     `json:"name"`
	ClassID    int        `json:"class_id"`
	Confidence float64    `json:"confidence"`
	Box        Box        `json:"box"`
	Normalized [4]float64 `json:"box_normalized"`
	Frame      int        `json:"frame"`
}

// RequiresNearMatch 是否按接近距离判定
func (r ROI) RequiresNearMatch() bool {
	return r.ClassID == ClassNearMatch
}

func (b Box) bounds() (minX, minY, maxX, maxY float64) {
	return math.Min(b.X1, b.X2), math.Min(b.Y1, b.Y2), math.Max(b.X1, b.X2), math.Max(b.Y1, b.Y2)
}

// Contains 点严格位于矩形内部，边界上的点不算
func (b Box) Contains(x, y float64) bool {
	minX, minY, maxX, maxY := b.bounds()
	return x > minX && x < maxX && y > minY && y < maxY
}

// Distance 点到矩形的欧氏距离，点在矩形内或边界上为 0
func (b Box) Distance(x, y float64) float64 {
	minX, minY, maxX, maxY := b.bounds()
	dx := math.Max(0, math.Max(minX-x, x-maxX))
	dy := math.Max(0, math.Max(minY-y, y-maxY))
	return math.Hypot(dx, dy)
}

// Normalize 按帧尺寸归一化坐标，尺寸无效时返回零值
func (b Box) Normalize(width, height int) [4]float64 {
	if width <= 0 || height <= 0 {
		return [4]float64{}
	}
	w, h := float64(width), float64(height)
	return [4]float64{b.X1 / w, b.Y1 / h, b.X2 / w, b.Y2 / h}
}
