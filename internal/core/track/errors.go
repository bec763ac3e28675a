package track

import (
	"fmt"
	"strings"
)

// SchemaError 检测表缺少必需列
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("detection table missing required columns: %s", strings.Join(e.Missing, ", "))
}

// ParseError 某行无法解析
type ParseError struct {
	Line   int
	Column string
	Value  string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d column %q value %q: %v", e.Line, e.Column, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
