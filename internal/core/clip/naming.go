package clip

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/gowvp/nora/internal/core/episode"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// FileName clip_<序号>_class_<类别>_roi_<ROI>.mp4
func FileName(index int, e episode.Episode) string {
	return fmt.Sprintf("clip_%d_class_%d_roi_%s.mp4", index, e.ClassID, Slug(e.ObjectROI))
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slug 将 ROI 名称转换为可用于文件名的 ASCII 形式
func Slug(name string) string {
	s, _, err := transform.String(stripMarks, name)
	if err != nil {
		s = name
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "roi"
	}
	return out
}
