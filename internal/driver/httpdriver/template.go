package httpdriver

import (
	"fmt"
	"strings"
)

// templateSegment is either literal text (placeholder == "") or a
// placeholder name to be substituted at resolve time.
type templateSegment struct {
	literal     string
	placeholder string
}

// parseTemplate splits a cnam URL template into literal and placeholder
// segments, validating the "{name}" grammar: a stray '}' outside a
// placeholder, a nested '{' inside one, an empty "{}", or an unterminated
// "{" at end of string are all rejected — spec.md §4.7.5.
func parseTemplate(tmpl string) ([]templateSegment, error) {
	var segments []templateSegment
	var literal strings.Builder
	inPlaceholder := false
	var placeholder strings.Builder

	flushLiteral := func() {
		if literal.Len() > 0 {
			segments = append(segments, templateSegment{literal: literal.String()})
			literal.Reset()
		}
	}

	for _, r := range tmpl {
		switch {
		case r == '{' && !inPlaceholder:
			flushLiteral()
			inPlaceholder = true
		case r == '{' && inPlaceholder:
			return nil, fmt.Errorf("httpdriver(cnam): '{' inside placeholder")
		case r == '}' && inPlaceholder:
			if placeholder.Len() == 0 {
				return nil, fmt.Errorf("httpdriver(cnam): empty placeholder")
			}
			segments = append(segments, templateSegment{placeholder: placeholder.String()})
			placeholder.Reset()
			inPlaceholder = false
		case r == '}' && !inPlaceholder:
			return nil, fmt.Errorf("httpdriver(cnam): unexpected '}' outside placeholder")
		case inPlaceholder:
			placeholder.WriteRune(r)
		default:
			literal.WriteRune(r)
		}
	}

	if inPlaceholder {
		return nil, fmt.Errorf("httpdriver(cnam): unterminated placeholder")
	}
	flushLiteral()
	return segments, nil
}

// resolveTemplate substitutes each placeholder segment with the
// corresponding value from fields, stringified. A placeholder naming a
// key absent from fields, or whose value is not a string/number/bool, is
// an error.
func resolveTemplate(segments []templateSegment, fields map[string]any) (string, error) {
	var b strings.Builder
	for _, seg := range segments {
		if seg.placeholder == "" {
			b.WriteString(seg.literal)
			continue
		}
		v, ok := fields[seg.placeholder]
		if !ok {
			return "", fmt.Errorf("httpdriver(cnam): payload missing field %q", seg.placeholder)
		}
		switch v.(type) {
		case string, float64, bool:
			b.WriteString(stringify(v))
		default:
			return "", fmt.Errorf("httpdriver(cnam): field %q has unsupported type", seg.placeholder)
		}
	}
	return b.String(), nil
}
