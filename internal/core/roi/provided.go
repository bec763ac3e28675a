package roi

import "fmt"

// Provided 调用方直接给出的区域，通常来自前端框选
type Provided struct {
	Name        string  `json:"name"`
	ClassID     *int    `json:"class_id"`
	X1          float64 `json:"x1"`
	Y1          float64 `json:"y1"`
	X2          float64 `json:"x2"`
	Y2          float64 `json:"y2"`
	FrameWidth  int     `json:"frame_width"`
	FrameHeight int     `json:"frame_height"`
	Frame       int     `json:"frame"`
}

// FromProvided 转换为 Registry
// 名称缺省为 roi_<i>，类别缺省为 ClassNearMatch，置信度为 1
func FromProvided(items []Provided) (*Registry, error) {
	rois := make([]ROI, 0, len(items))
	for i, p := range items {
		key := fmt.Sprintf("roi_%d", i)
		name := p.Name
		if name == "" {
			name = key
		}
		classID := ClassNearMatch
		if p.ClassID != nil {
			classID = *p.ClassID
		}
		box := Box{X1: p.X1, Y1: p.Y1, X2: p.X2, Y2: p.Y2}
		rois = append(rois, ROI{
			Key:        key,
			Name:       name,
			ClassID:    classID,
			Confidence: 1,
			Box:        box,
			Normalized: box.Normalize(p.FrameWidth, p.FrameHeight),
			Frame:      p.Frame,
		})
	}
	return NewRegistry(rois)
}
