// Package textfmt extracts structural features from model output by parsing
// it as markdown.
package textfmt

import (
	"encoding/json"
	"strings"
	"unicode"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// Format is an expected output shape.
type Format string

const (
	FormatBullets  Format = "bullets"
	FormatNumbered Format = "numbered"
	FormatJSON     Format = "json"
	FormatCode     Format = "code"
	FormatTable    Format = "table"
)

// Features is the structural signature of a text.
type Features struct {
	LineCount     int     `json:"line_count"`
	BulletItems   int     `json:"bullet_items"`
	NumberedItems int     `json:"numbered_items"`
	BulletRatio   float64 `json:"bullet_ratio"`
	NumberedRatio float64 `json:"numbered_ratio"`
	AvgLineLen    float64 `json:"avg_line_len"`
	HasJSON       bool    `json:"has_json"`
	HasCode       bool    `json:"has_code"`
	TableRows     int     `json:"table_rows"`
}

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// Analyze parses text and returns its features.
func Analyze(s string) Features {
	lines := NonEmptyLines(s)
	f := Features{LineCount: len(lines)}

	if len(lines) > 0 {
		total := 0
		for _, l := range lines {
			total += len([]rune(l))
		}
		f.AvgLineLen = float64(total) / float64(len(lines))
	}

	source := []byte(s)
	doc := md.Parser().Parse(text.NewReader(source))

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := n.(type) {
		case *ast.ListItem:
			if list, ok := v.Parent().(*ast.List); ok && list.IsOrdered() {
				f.NumberedItems++
			} else {
				f.BulletItems++
			}
		case *ast.FencedCodeBlock:
			f.HasCode = true
			if lang := string(v.Language(source)); strings.EqualFold(lang, "json") && json.Valid(blockText(v, source)) {
				f.HasJSON = true
			}
		case *ast.CodeBlock:
			f.HasCode = true
		case *east.TableHeader, *east.TableRow:
			f.TableRows++
		}
		return ast.WalkContinue, nil
	})

	if f.LineCount > 0 {
		f.BulletRatio = min(float64(f.BulletItems)/float64(f.LineCount), 1)
		f.NumberedRatio = min(float64(f.NumberedItems)/float64(f.LineCount), 1)
	}

	if !f.HasJSON {
		f.HasJSON = IsJSON(s)
	}

	return f
}

// Matches reports whether text has the given structure. A list format
// matches when list items make up at least half of the non-empty lines.
func Matches(s string, format Format) bool {
	f := Analyze(s)
	switch format {
	case FormatBullets:
		return f.BulletItems > 0 && f.BulletRatio >= 0.5
	case FormatNumbered:
		return f.NumberedItems > 0 && f.NumberedRatio >= 0.5
	case FormatJSON:
		return f.HasJSON
	case FormatCode:
		return f.HasCode
	case FormatTable:
		return f.TableRows >= 2
	default:
		return false
	}
}

// ParseFormat normalizes a format name, accepting common aliases.
func ParseFormat(name string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "bullets", "bullet", "list":
		return FormatBullets, true
	case "numbered", "numbered_list", "steps":
		return FormatNumbered, true
	case "json", "json_object":
		return FormatJSON, true
	case "code":
		return FormatCode, true
	case "table":
		return FormatTable, true
	default:
		return "", false
	}
}

// Words splits on anything that is not a letter, digit or underscore.
func Words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}

// IsJSON reports whether the trimmed text parses as a single JSON value.
func IsJSON(s string) bool {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return false
	}
	return json.Valid([]byte(trimmed))
}

// NonEmptyLines splits on newlines and drops whitespace-only lines.
func NonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

func blockText(n ast.Node, source []byte) []byte {
	var buf []byte
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf = append(buf, seg.Value(source)...)
	}
	return buf
}
