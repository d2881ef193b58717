package pipeline

import (
	"image"
	"regexp"
	"strings"
	"unicode"

	"timetable/internal/models"
	"timetable/internal/ocr"
	"timetable/internal/table"
)

// metadataLines bounds how much leading text is searched for title fields.
const metadataLines = 10

var (
	classPattern   = regexp.MustCompile(`(?i)class[:\s]+([a-z0-9]+)|^(\d[a-z]{1,3})\b`)
	teacherPattern = regexp.MustCompile(`(?i)teacher[:\s]+((?:miss|mrs|mr|ms)\.?\s+\w+)`)
	termPattern    = regexp.MustCompile(`(?i)(?:autumn|spring|summer)\s*\d+\s*(?:week[:\s]+\d+)?\s*\d{4}`)
	schoolPattern  = regexp.MustCompile(`(?i)[a-z][a-z ]*(?:primary|secondary|school)`)
)

// ParseMetadata reads class, teacher, term and school from the first title
// lines. Each field takes its first match in line order.
func ParseMetadata(lines []string) models.DocumentMetadata {
	var md models.DocumentMetadata
	if len(lines) > metadataLines {
		lines = lines[:metadataLines]
	}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if md.ClassName == "" {
			if m := classPattern.FindStringSubmatch(line); m != nil {
				md.ClassName = m[1] + m[2]
			}
		}
		if md.Teacher == "" {
			if m := teacherPattern.FindStringSubmatch(line); m != nil {
				md.Teacher = titleWords(m[1])
			}
		}
		if md.Term == "" {
			if m := termPattern.FindString(line); m != "" {
				md.Term = titleWords(m)
			}
		}
		if md.School == "" {
			if m := schoolPattern.FindString(line); m != "" {
				md.School = titleWords(m)
			}
		}
	}
	return md
}

// pageText is the page's running text followed by the lines its words form
// outside every detected region.
func pageText(text []string, words []ocr.Word, grids []table.Grid) []string {
	out := append([]string(nil), text...)
	var loose []ocr.Word
	for _, w := range words {
		if !insideAny(w.Center(), grids) {
			loose = append(loose, w)
		}
	}
	for _, line := range ocr.Lines(loose) {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func insideAny(pt image.Point, grids []table.Grid) bool {
	for _, g := range grids {
		if pt.In(g.Bounds) {
			return true
		}
	}
	return false
}

func titleWords(s string) string {
	fields := strings.Fields(s)
	for i, f := range fields {
		r := []rune(strings.ToLower(f))
		r[0] = unicode.ToUpper(r[0])
		fields[i] = string(r)
	}
	return strings.Join(fields, " ")
}
