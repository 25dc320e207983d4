package recognizer

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// jsonSpan matches from the first '{' to the last '}' across lines.
var jsonSpan = regexp.MustCompile(`(?s)\{.*\}`)

// ExtractContent parses a raw model response into fields. Responses without a
// brace-delimited object, or whose object is not valid JSON, yield
// DefaultFields.
func ExtractContent(response string) Fields {
	span := jsonSpan.FindString(response)
	if span == "" {
		return DefaultFields()
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(span), &raw); err != nil {
		return DefaultFields()
	}

	f := Fields{Parsed: true}
	for k, v := range raw {
		s := Sanitize(v)
		switch k {
		case KeyName:
			f.Name = s
		case KeyAge:
			f.Age = s
		case KeyDOB:
			f.DateOfBirth = s
		case KeyDisease:
			f.Disease = s
		}
	}
	return f
}

// Sanitize coerces a decoded JSON value to a trimmed NFC string. Null becomes
// the empty string; arrays and objects keep their JSON form.
func Sanitize(v any) string {
	var s string
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		s = val
	case float64:
		s = strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			s = fmt.Sprint(val)
		} else {
			s = string(b)
		}
	}
	return strings.TrimSpace(norm.NFC.String(s))
}

// ParseDiseases splits the disease field into entries. A JSON array is
// decoded as such; anything else is split on commas and semicolons.
func ParseDiseases(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return []string{}
	}

	if strings.HasPrefix(s, "[") {
		var arr []any
		if err := json.Unmarshal([]byte(s), &arr); err == nil {
			out := make([]string, 0, len(arr))
			for _, v := range arr {
				if e := Sanitize(v); e != "" {
					out = append(out, e)
				}
			}
			return out
		}
		s = strings.Trim(s, "[]")
	}

	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimFunc(p, func(r rune) bool { return unicode.IsSpace(r) || r == '"' || r == '\'' })
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
