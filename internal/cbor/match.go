package cbor

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hwkim3330/velocitydrivesp-support/internal/yang"
)

// matchTypeJSON implements the match_type_json predicate used to select
// a union member in declaration order during encode.
func matchTypeJSON(t *yang.Type, value interface{}) bool {
	switch t.Name {
	case "int8", "int16", "int32", "int64", "uint8", "uint16", "uint32", "uint64":
		n, ok := asInt(value)
		if !ok {
			return false
		}
		return inRanges(t.Ranges, n)

	case "decimal64":
		s := fmt.Sprint(value)
		if !decimalPattern.MatchString(s) {
			return false
		}
		n, ok := asDecimalScaled(s, t.FractionDigits)
		if !ok {
			return false
		}
		return inRanges(t.Ranges, n)

	case "string", "instance-identifier", "leafref":
		s, ok := value.(string)
		if !ok {
			return false
		}
		if !inLengthRanges(t.LengthRanges, int64(len(s))) {
			return false
		}
		for _, pat := range t.Patterns {
			re, err := regexp.Compile(pat)
			if err == nil && !re.MatchString(s) {
				return false
			}
		}
		return true

	case "binary":
		s, ok := value.(string)
		if !ok {
			return false
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return false
		}
		return inLengthRanges(t.LengthRanges, int64(len(b)))

	case "bits":
		s, ok := value.(string)
		if !ok {
			return false
		}
		for _, name := range strings.Fields(s) {
			if _, ok := t.Bits[name]; !ok {
				return false
			}
		}
		return true

	case "enumeration":
		s, ok := value.(string)
		if !ok {
			return false
		}
		_, ok = t.Enums[s]
		return ok

	case "identityref":
		s, ok := value.(string)
		return ok && s != ""

	case "boolean", "bool":
		_, ok := value.(bool)
		return ok

	case "empty":
		return value == nil

	default:
		return true
	}
}

var decimalPattern = regexp.MustCompile(`^-?[0-9]+(\.[0-9]+)?$`)

func asInt(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func asDecimalScaled(s string, fractionDigits int) (int64, bool) {
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	intPart, fracPart := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
	}
	for len(fracPart) < fractionDigits {
		fracPart += "0"
	}
	n, err := strconv.ParseInt(intPart+fracPart, 10, 64)
	if err != nil {
		return 0, false
	}
	if neg {
		n = -n
	}
	return n, true
}

func inRanges(ranges []yang.Range, n int64) bool {
	if len(ranges) == 0 {
		return true
	}
	for _, r := range ranges {
		if n >= r.Min && n <= r.Max {
			return true
		}
	}
	return false
}

func inLengthRanges(ranges []yang.Range, n int64) bool {
	if len(ranges) == 0 {
		return true
	}
	for _, r := range ranges {
		if n >= r.Min && n <= r.Max {
			return true
		}
	}
	return false
}
