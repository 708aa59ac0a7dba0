package cbor

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/hwkim3330/velocitydrivesp-support/internal/yang"
)

// iidSegment is one "/arg[key='value']..." path element.
type iidSegment struct {
	arg  string
	keys []iidKey
}

type iidKey struct {
	name  string
	value string
}

// splitInstanceID splits on '/' outside '[...]', then splits each segment
// into its argument and ordered key=value pairs.
func splitInstanceID(iid string) ([]iidSegment, error) {
	var parts []string
	depth := 0
	start := 0
	for i, r := range iid {
		switch r {
		case '[':
			depth++
		case ']':
			depth--
		case '/':
			if depth == 0 {
				parts = append(parts, iid[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, iid[start:])

	var segs []iidSegment
	for _, p := range parts {
		if p == "" {
			continue
		}
		seg, err := parseSegment(p)
		if err != nil {
			return nil, err
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

func parseSegment(p string) (iidSegment, error) {
	i := strings.IndexByte(p, '[')
	if i < 0 {
		return iidSegment{arg: p}, nil
	}
	seg := iidSegment{arg: p[:i]}
	rest := p[i:]
	for len(rest) > 0 {
		if rest[0] != '[' {
			break
		}
		closeIdx := strings.IndexByte(rest, ']')
		if closeIdx < 0 {
			return iidSegment{}, errors.Errorf("unterminated key predicate in %q", p)
		}
		inner := rest[1:closeIdx]
		eq := strings.IndexByte(inner, '=')
		if eq < 0 {
			return iidSegment{}, errors.Errorf("malformed key predicate %q", inner)
		}
		name := inner[:eq]
		val := strings.Trim(inner[eq+1:], `'"`)
		seg.keys = append(seg.keys, iidKey{name: name, value: val})
		rest = rest[closeIdx+1:]
	}
	return seg, nil
}

// EncodeIID resolves the schema path and emits [sid, k1, k2, ...] (or a
// bare sid when there are no keys).
func EncodeIID(tree *yang.Tree, iid string) (interface{}, error) {
	segs, err := splitInstanceID(iid)
	if err != nil {
		return nil, err
	}

	node := tree.Root()
	var keyValues []interface{}
	for _, seg := range segs {
		node = tree.ResolveSchemaPath(node, []string{seg.arg})
		if node == nil {
			return nil, errors.Errorf("instance-identifier %q: no such node %q", iid, seg.arg)
		}
		for _, k := range seg.keys {
			keyNode := tree.SubstmByArg(node, k.name)
			var typ *yang.Type
			if keyNode != nil {
				typ = keyNode.Type
			}
			kv, err := coerceKeyValue(typ, k.value)
			if err != nil {
				return nil, err
			}
			keyValues = append(keyValues, kv)
		}
	}
	if node == nil || !node.HasSID {
		return nil, errors.Errorf("instance-identifier %q resolves to a node without a sid", iid)
	}
	if len(keyValues) == 0 {
		return node.SID, nil
	}
	out := make([]interface{}, 0, len(keyValues)+1)
	out = append(out, node.SID)
	out = append(out, keyValues...)
	return out, nil
}

// coerceKeyValue applies the key value coercion: strings stay
// strings, integers parse as integers, true/false as booleans, and the
// sentinel [null] spelling as null for an empty-typed key.
func coerceKeyValue(t *yang.Type, raw string) (interface{}, error) {
	if t == nil {
		return raw, nil
	}
	switch t.Name {
	case "empty":
		if raw == "[null]" {
			return nil, nil
		}
		return raw, nil
	case "boolean", "bool":
		switch raw {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return raw, nil
	case "int8", "int16", "int32", "int64", "uint8", "uint16", "uint32", "uint64":
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return raw, nil
		}
		return n, nil
	default:
		return raw, nil
	}
}

// DecodeIID rebuilds the "/mod:a/b[k='v']/..." string given a bare SID or
// [SID, keys...].
func DecodeIID(tree *yang.Tree, cborValue interface{}) (string, error) {
	var sid int64
	var keyVals []interface{}

	switch v := cborValue.(type) {
	case []interface{}:
		if len(v) == 0 {
			return "", errors.Errorf("empty instance-identifier array")
		}
		s, err := toInt64(v[0])
		if err != nil {
			return "", err
		}
		sid = s
		keyVals = v[1:]
	default:
		s, err := toInt64(v)
		if err != nil {
			return "", err
		}
		sid = s
	}

	node, path := tree.FindBySID(int(sid))
	if node == nil {
		return "", errors.Errorf("unknown sid %d in instance-identifier", sid)
	}

	var b strings.Builder
	ki := 0
	for i, n := range path {
		if i == 0 {
			// path[0] is always the schema root (the module node itself),
			// which is never written as a path segment.
			continue
		}
		b.WriteByte('/')
		b.WriteString(n.Arg)
		if n.Keyword == yang.KwList && len(n.Keys) > 0 {
			for _, keyName := range n.Keys {
				if ki >= len(keyVals) {
					break
				}
				keyNode := tree.SubstmByArg(n, keyName)
				var typ *yang.Type
				if keyNode != nil {
					typ = keyNode.Type
				}
				s, err := decodeKeyValue(typ, keyVals[ki])
				if err != nil {
					return "", err
				}
				b.WriteByte('[')
				b.WriteString(keyName)
				b.WriteString("='")
				b.WriteString(s)
				b.WriteString("']")
				ki++
			}
		}
	}
	return b.String(), nil
}

func decodeKeyValue(t *yang.Type, v interface{}) (string, error) {
	if t == nil {
		return anyToString(v), nil
	}
	switch t.Name {
	case "empty":
		if v == nil {
			return "[null]", nil
		}
		return anyToString(v), nil
	default:
		return anyToString(v), nil
	}
}

func anyToString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		if x {
			return "true"
		}
		return "false"
	default:
		if n, ok := toInt64(v); ok == nil {
			return strconv.FormatInt(n, 10)
		}
		return ""
	}
}
