package roi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Registry 只读的 ROI 集合，保持描述文件中的顺序，名称唯一
type Registry struct {
	rois   []ROI
	byName map[string]int
}

// NewRegistry 名称重复或为空时返回 MalformedROIError
func NewRegistry(rois []ROI) (*Registry, error) {
	r := Registry{
		rois:   make([]ROI, 0, len(rois)),
		byName: make(map[string]int, len(rois)),
	}
	for _, v := range rois {
		if v.Name == "" {
			return nil, &MalformedROIError{Key: v.Key, Reason: "name is required"}
		}
		if _, ok := r.byName[v.Name]; ok {
			return nil, &MalformedROIError{Key: v.Key, Reason: fmt.Sprintf("duplicate name %q", v.Name)}
		}
		r.byName[v.Name] = len(r.rois)
		r.rois = append(r.rois, v)
	}
	return &r, nil
}

// All 按描述顺序返回全部 ROI
func (r *Registry) All() []ROI {
	out := make([]ROI, len(r.rois))
	copy(out, r.rois)
	return out
}

func (r *Registry) Get(name string) (ROI, bool) {
	i, ok := r.byName[name]
	if !ok {
		return ROI{}, false
	}
	return r.rois[i], true
}

func (r *Registry) Len() int {
	return len(r.rois)
}

// entry 描述文件中单个 ROI 的结构，字段用指针区分缺失
type entry struct {
	Name       *string   `json:"name" yaml:"name"`
	ClassID    *int      `json:"class_id" yaml:"class_id"`
	Confidence float64   `json:"confidence" yaml:"confidence"`
	Box        *Box      `json:"box" yaml:"box"`
	Normalized []float64 `json:"box_normalized" yaml:"box_normalized"`
	Frame      int       `json:"frame" yaml:"frame"`
}

func (e entry) toROI(key string) (ROI, error) {
	if e.Name == nil {
		return ROI{}, &MalformedROIError{Key: key, Reason: "missing name"}
	}
	if e.Box == nil {
		return ROI{}, &MalformedROIError{Key: key, Reason: "missing box"}
	}
	if e.ClassID == nil {
		return ROI{}, &MalformedROIError{Key: key, Reason: "missing class_id"}
	}
	out := ROI{
		Key:        key,
		Name:       *e.Name,
		ClassID:    *e.ClassID,
		Confidence: e.Confidence,
		Box:        *e.Box,
		Frame:      e.Frame,
	}
	if n := len(e.Normalized); n != 0 && n != 4 {
		return ROI{}, &MalformedROIError{Key: key, Reason: fmt.Sprintf("box_normalized needs 4 values, got %d", n)}
	}
	copy(out.Normalized[:], e.Normalized)
	return out, nil
}

// LoadFile 根据扩展名选择 JSON 或 YAML
func LoadFile(path string) (*Registry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roi description: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(b)
	default:
		return Load(bytes.NewReader(b))
	}
}

// Load 解析 JSON 描述: {"roi_0": {"name":..., "class_id":..., "box": {...}}, ...}
// 按 token 流读取以保留键的顺序
func Load(r io.Reader) (*Registry, error) {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return nil, &MalformedROIError{Reason: err.Error()}
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, &MalformedROIError{Reason: "top level must be an object"}
	}

	var rois []ROI
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, &MalformedROIError{Reason: err.Error()}
		}
		key, _ := tok.(string)
		var e entry
		if err := dec.Decode(&e); err != nil {
			return nil, &MalformedROIError{Key: key, Reason: err.Error()}
		}
		v, err := e.toROI(key)
		if err != nil {
			return nil, err
		}
		rois = append(rois, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, &MalformedROIError{Reason: err.Error()}
	}
	return NewRegistry(rois)
}

// LoadYAML 解析与 JSON 结构相同的 YAML 描述
func LoadYAML(b []byte) (*Registry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, &MalformedROIError{Reason: err.Error()}
	}
	if len(doc.Content) == 0 {
		return NewRegistry(nil)
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, &MalformedROIError{Reason: "top level must be a mapping"}
	}

	rois := make([]ROI, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i].Value
		var e entry
		if err := root.Content[i+1].Decode(&e); err != nil {
			return nil, &MalformedROIError{Key: key, Reason: err.Error()}
		}
		v, err := e.toROI(key)
		if err != nil {
			return nil, err
		}
		rois = append(rois, v)
	}
	return NewRegistry(rois)
}

// Encode 以 JSON 描述格式输出，键为 ROI 的 Key
func (r *Registry) Encode(w io.Writer) error {
	var buf bytes.Buffer
	buf.WriteString("{\n")
	for i, v := range r.rois {
		key := v.Key
		if key == "" {
			key = fmt.Sprintf("roi_%d", i)
		}
		k, _ := json.Marshal(key)
		b, err := json.MarshalIndent(v, "  ", "  ")
		if err != nil {
			return err
		}
		buf.WriteString("  ")
		buf.Write(k)
		buf.WriteString(": ")
		buf.Write(b)
		if i < len(r.rois)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("}\n")
	_, err := w.Write(buf.Bytes())
	return err
}

// WriteFile 写入 JSON 描述文件
func (r *Registry) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := r.Encode(f); err != nil {
		return errors.Join(err, f.Close())
	}
	return f.Close()
}
