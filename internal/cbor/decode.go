package cbor

import (
	"encoding/base64"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"github.com/hwkim3330/velocitydrivesp-support/internal/yang"
)

// DecodeBody inverts EncodeBody for the given content format.
func (c *Codec) DecodeBody(node *yang.Node, data []byte, cf ContentFormat) (interface{}, error) {
	switch cf {
	case FormatFetch, FormatIPatch, FormatPost:
		dec := cbor.NewDecoder(&byteReader{data})
		var items []interface{}
		for {
			var raw interface{}
			if err := dec.Decode(&raw); err != nil {
				break
			}
			v, err := c.decodeItem(node, raw)
			if err != nil {
				return nil, err
			}
			items = append(items, v)
		}
		return items, nil
	default:
		var raw interface{}
		if err := cbor.Unmarshal(data, &raw); err != nil {
			return nil, errors.Wrap(err, "cbor unmarshal")
		}
		return c.decode(node, raw)
	}
}

type byteReader struct{ b []byte }

func (r *byteReader) Read(p []byte) (int, error) {
	if len(r.b) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.b)
	r.b = r.b[n:]
	return n, nil
}

func (c *Codec) decodeItem(node *yang.Node, raw interface{}) (interface{}, error) {
	m, ok := raw.(map[interface{}]interface{})
	if !ok {
		// bare SID / [SID, keys...] fetch request item
		iid, err := DecodeIID(c.Tree, raw)
		if err != nil {
			return nil, err
		}
		return iid, nil
	}
	for k, v := range m {
		iid, err := decodeIIDKeyToString(c.Tree, k)
		if err != nil {
			return nil, err
		}
		target := c.Tree.ResolveSchemaPath(c.Tree.Root(), splitIID(iid))
		if target == nil || v == nil {
			return map[string]interface{}{iid: nil}, nil
		}
		dv, err := c.decode(target, v)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{iid: dv}, nil
	}
	return nil, nil
}

func decodeIIDKeyToString(tr *yang.Tree, k interface{}) (string, error) {
	switch v := k.(type) {
	case string:
		return v, nil
	default:
		return DecodeIID(tr, k)
	}
}

// decode implements the decode(node, cbor) dispatch, the mirror of encode.
func (c *Codec) decode(node *yang.Node, value interface{}) (interface{}, error) {
	switch node.Keyword {
	case yang.KwModule, yang.KwContainer, yang.KwInput, yang.KwOutput:
		return c.decodeMapRelativeTo(node, value, node)

	case yang.KwList:
		switch v := value.(type) {
		case []interface{}:
			var out []interface{}
			for _, entry := range v {
				dv, err := c.decodeMapRelativeTo(node, entry, node)
				if err != nil {
					return nil, err
				}
				out = append(out, dv)
			}
			return out, nil
		default:
			return c.decodeMapRelativeTo(node, value, node)
		}

	case yang.KwLeaf:
		return c.typeDecode(node.Type, value, false)

	case yang.KwLeafList:
		arr, ok := value.([]interface{})
		if !ok {
			return nil, errors.Errorf("leaf-list %q expects a CBOR array", node.Arg)
		}
		out := make([]interface{}, 0, len(arr))
		for _, v := range arr {
			dv, err := c.typeDecode(node.Type, v, false)
			if err != nil {
				return nil, err
			}
			out = append(out, dv)
		}
		return out, nil

	case yang.KwRPC, yang.KwAction:
		m, ok := value.(map[string]interface{})
		if !ok {
			if mi, ok2 := value.(map[interface{}]interface{}); ok2 {
				m = normalizeMap(mi)
			} else {
				return nil, errors.Errorf("rpc/action %q expects a {input|output: map}", node.Arg)
			}
		}
		for kw, body := range m {
			child := c.Tree.SubstmByArg(node, kw)
			if child == nil {
				return nil, errors.Errorf("rpc/action %q has no %q", node.Arg, kw)
			}
			dv, err := c.decodeMapRelativeTo(child, body, node)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{kw: dv}, nil
		}
		return nil, nil

	case yang.KwAnydata, yang.KwAnyxml:
		if node.Arg == "board:factory_default_config" {
			return c.decodeMapRelativeTo(c.Tree.Root(), value, c.Tree.Root())
		}
		return value, nil

	default:
		return value, nil
	}
}

func normalizeMap(mi map[interface{}]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(mi))
	for k, v := range mi {
		out[fmt.Sprint(k)] = v
	}
	return out
}

func (c *Codec) decodeMapRelativeTo(node *yang.Node, value interface{}, relTo *yang.Node) (interface{}, error) {
	var deltas map[int64]interface{}
	switch m := value.(type) {
	case map[interface{}]interface{}:
		deltas = make(map[int64]interface{}, len(m))
		for k, v := range m {
			d, err := toInt64(k)
			if err != nil {
				return nil, err
			}
			deltas[d] = v
		}
	case map[int64]interface{}:
		deltas = m
	default:
		return nil, errors.Errorf("node %q expects a CBOR map", node.Arg)
	}

	baseSID := 0
	if relTo.HasSID {
		baseSID = relTo.SID
	}
	out := make(map[string]interface{}, len(deltas))
	for delta, v := range deltas {
		child := c.Tree.SubstmBySID(node, baseSID+int(delta))
		if child == nil {
			if err := c.warnOrFail("cbor: unknown child sid %d under %q, skipping", baseSID+int(delta), node.Arg); err != nil {
				return nil, err
			}
			continue
		}
		dv, err := c.decode(child, v)
		if err != nil {
			return nil, err
		}
		out[child.Arg] = dv
	}
	return out, nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case uint64:
		return int64(n), nil
	case int:
		return int64(n), nil
	default:
		return 0, errors.Errorf("expected integer CBOR map key, got %T", v)
	}
}

// typeDecode inverts typeEncode.
func (c *Codec) typeDecode(t *yang.Type, value interface{}, inUnion bool) (interface{}, error) {
	if value == nil {
		return nil, nil
	}

	if tag, ok := value.(cbor.Tag); ok {
		switch tag.Number {
		case 43:
			return tag.Content, nil
		case 44:
			return tag.Content, nil
		case 45:
			return c.decodeIdentityref(t, tag.Content)
		case 4:
			parts, ok := tag.Content.([]interface{})
			if !ok || len(parts) != 2 {
				return nil, errors.Errorf("malformed decimal64 tag content")
			}
			return decimal64ToString(parts)
		}
	}

	switch t.Name {
	case "enumeration":
		n, err := toInt64(value)
		if err != nil {
			return nil, err
		}
		for name, v := range t.Enums {
			if int64(v) == n {
				return name, nil
			}
		}
		return nil, errors.Errorf("unknown enum value %d", n)

	case "bits":
		return decodeBits(t, value)

	case "identityref":
		n, err := toInt64(value)
		if err != nil {
			return nil, err
		}
		return c.decodeIdentityref(t, n)

	case "decimal64":
		parts, ok := value.([]interface{})
		if ok && len(parts) == 2 {
			return decimal64ToString(parts)
		}
		return value, nil

	case "binary":
		b, ok := value.([]byte)
		if !ok {
			return nil, errors.Errorf("binary expects a CBOR byte string")
		}
		return base64.StdEncoding.EncodeToString(b), nil

	case "int64", "uint64":
		n, err := toInt64(value)
		if err != nil {
			return nil, err
		}
		return strconv.FormatInt(n, 10), nil

	case "leafref":
		target := c.Tree.Node(t.LeafrefTargetID)
		if target == nil || target.Type == nil {
			return nil, errors.Errorf("unresolved leafref target")
		}
		return c.typeDecode(target.Type, value, inUnion)

	case "empty":
		return nil, nil

	case "instance-identifier":
		return DecodeIID(c.Tree, value)

	case "union":
		// Without a tag we infer by shape: a plain string/int/bool decodes
		// as whichever member's representation matches syntactically.
		for _, member := range t.Union {
			if decodedMatchesShape(member, value) {
				return c.typeDecode(member, value, true)
			}
		}
		return value, nil

	default:
		return value, nil
	}
}

func (c *Codec) decodeIdentityref(t *yang.Type, sidVal interface{}) (interface{}, error) {
	n, err := toInt64(sidVal)
	if err != nil {
		return nil, err
	}
	node, _ := c.Tree.FindBySID(int(n))
	if node == nil {
		return strconv.FormatInt(n, 10), nil
	}
	return node.Arg, nil
}

func decimal64ToString(parts []interface{}) (string, error) {
	expNeg, err := toInt64(parts[0])
	if err != nil {
		return "", err
	}
	mant, err := toInt64(parts[1])
	if err != nil {
		return "", err
	}
	digits := int(-expNeg)
	neg := mant < 0
	if neg {
		mant = -mant
	}
	s := strconv.FormatInt(mant, 10)
	for len(s) <= digits {
		s = "0" + s
	}
	intPart := s[:len(s)-digits]
	fracPart := s[len(s)-digits:]
	out := intPart
	if digits > 0 {
		out += "." + fracPart
	}
	if neg {
		out = "-" + out
	}
	return out, nil
}

// decodeBits recovers the space-separated bit names from the compact
// representation: a bare byte-string, or an array alternating byte-strings
// and integer gap counts.
func decodeBits(t *yang.Type, value interface{}) (string, error) {
	var runs []struct {
		base  int
		bytes []byte
	}

	appendRun := func(base int, bs []byte) {
		runs = append(runs, struct {
			base  int
			bytes []byte
		}{base, bs})
	}

	switch v := value.(type) {
	case string:
		appendRun(0, []byte(v))
	case []byte:
		appendRun(0, v)
	case []interface{}:
		base := 0
		for i := 0; i < len(v); i++ {
			switch e := v[i].(type) {
			case string:
				appendRun(base, []byte(e))
				base += len(e)
			case []byte:
				appendRun(base, e)
				base += len(e)
			default:
				gap, err := toInt64(e)
				if err != nil {
					return "", errors.Errorf("malformed bits array element %T", e)
				}
				base += int(gap)
			}
		}
	default:
		return "", errors.Errorf("bits expects a byte-string or array, got %T", value)
	}

	var names []string
	for _, r := range runs {
		for bi, b := range r.bytes {
			for bit := 0; bit < 8; bit++ {
				if b&(1<<uint(bit)) == 0 {
					continue
				}
				pos := (r.base+bi)*8 + bit
				for name, p := range t.Bits {
					if p == pos {
						names = append(names, name)
					}
				}
			}
		}
	}
	sort.Slice(names, func(i, j int) bool { return t.Bits[names[i]] < t.Bits[names[j]] })
	return strings.Join(names, " "), nil
}

// decodedMatchesShape is a coarse shape test used only when a union member
// arrives without an RFC 9254 tag (i.e. it was the "top-level" member of
// the union, encoded per the plain top-level rule rather than tag 43/44/45).
func decodedMatchesShape(t *yang.Type, value interface{}) bool {
	switch t.Name {
	case "int64", "uint64", "identityref", "enumeration":
		_, err := toInt64(value)
		return err == nil
	case "decimal64":
		_, ok := value.([]interface{})
		return ok
	case "binary":
		_, ok := value.([]byte)
		return ok
	case "bits":
		switch value.(type) {
		case string, []byte, []interface{}:
			return true
		}
		return false
	case "string", "instance-identifier":
		_, ok := value.(string)
		return ok
	case "bool", "boolean":
		_, ok := value.(bool)
		return ok
	case "empty":
		return value == nil
	default:
		return true
	}
}
