package roi

import "fmt"

// MalformedROIError ROI 描述结构错误
type MalformedROIError struct {
	Key    string
	Reason string
}

func (e *MalformedROIError) Error() string {
	if e.Key == "" {
		return "malformed roi description: " + e.Reason
	}
	return fmt.Sprintf("malformed roi %q: %s", e.Key, e.Reason)
}
