package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/Bhavikr1/spibot/pkg/types"
)

// ParseCitations decodes the citation metadata of a voice response. The value
// is normally a JSON array; backends that stringify their native list send a
// Python literal instead (single-quoted strings, True/False/None), which is
// converted to JSON first. A parse failure returns nil and the error.
func ParseCitations(raw string) ([]types.Citation, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var out []types.Citation
	if err := decodeJSON([]byte(raw), &out); err == nil {
		return out, nil
	}
	converted, err := pyLiteralToJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("api: parse citations: %w", err)
	}
	if err := decodeJSON([]byte(converted), &out); err != nil {
		return nil, fmt.Errorf("api: parse citations: %w", err)
	}
	return out, nil
}

func decodeJSON(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// pyLiteralToJSON rewrites a Python repr of lists, dicts, strings, numbers and
// the True/False/None constants into JSON. Tuples become arrays, trailing
// commas are dropped and signed or unsigned nan/inf become null.
func pyLiteralToJSON(s string) (string, error) {
	b := make([]byte, 0, len(s))
	for i := 0; i < len(s); {
		ch := s[i]
		switch {
		case ch == '\'' || ch == '"':
			str, n, err := readPyString(s[i:])
			if err != nil {
				return "", err
			}
			enc, _ := json.Marshal(str)
			b = append(b, enc...)
			i += n
		case ch == '(' || ch == '[':
			b = append(b, '[')
			i++
		case ch == ')' || ch == ']' || ch == '}':
			if ch == ')' {
				ch = ']'
			}
			b = append(dropTrailingComma(b), ch)
			i++
		case (ch == '-' || ch == '+') && (strings.HasPrefix(s[i+1:], "inf") || strings.HasPrefix(s[i+1:], "nan")):
			// The sign is dropped; the constant itself becomes null.
			i++
		case isDigit(ch) || (ch == '-' && i+1 < len(s) && isDigit(s[i+1])):
			j := i + 1
			for j < len(s) && (isDigit(s[j]) || strings.IndexByte(".eE+-", s[j]) >= 0) {
				j++
			}
			b = append(b, s[i:j]...)
			i = j
		case isIdentStart(ch):
			j := i
			for j < len(s) && isIdentPart(s[j]) {
				j++
			}
			switch word := s[i:j]; word {
			case "True":
				b = append(b, "true"...)
			case "False":
				b = append(b, "false"...)
			case "None", "nan", "inf":
				b = append(b, "null"...)
			default:
				return "", fmt.Errorf("unsupported python literal %q", word)
			}
			i = j
		default:
			b = append(b, ch)
			i++
		}
	}
	return string(b), nil
}

func dropTrailingComma(b []byte) []byte {
	trimmed := bytes.TrimRight(b, " \t\r\n")
	if n := len(trimmed); n > 0 && trimmed[n-1] == ',' {
		return trimmed[:n-1]
	}
	return b
}

// readPyString decodes the quoted Python string at the start of s and returns
// its value and the number of bytes consumed.
func readPyString(s string) (string, int, error) {
	quote := s[0]
	var b strings.Builder
	for i := 1; i < len(s); {
		ch := s[i]
		switch {
		case ch == quote:
			return b.String(), i + 1, nil
		case ch == '\\':
			if i+1 >= len(s) {
				return "", 0, errors.New("unterminated escape")
			}
			i++
			switch e := s[i]; e {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '\\', '\'', '"':
				b.WriteByte(e)
			case 'x', 'u', 'U':
				width := map[byte]int{'x': 2, 'u': 4, 'U': 8}[e]
				if i+width >= len(s) {
					return "", 0, errors.New("short escape")
				}
				r, err := strconv.ParseUint(s[i+1:i+1+width], 16, 32)
				if err != nil {
					return "", 0, fmt.Errorf("bad escape: %w", err)
				}
				b.WriteRune(rune(r))
				i += width
			default:
				b.WriteByte('\\')
				b.WriteByte(e)
			}
			i++
		default:
			r, size := utf8.DecodeRuneInString(s[i:])
			b.WriteRune(r)
			i += size
		}
	}
	return "", 0, errors.New("unterminated string")
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
