// Package cbor implements the schema-driven JSON↔CBOR translation: given
// a resolved YANG schema node (internal/yang) and a JSON-shaped Go value
// (the usual map[string]interface{}/[]interface{}/string/float64/bool/nil
// tree produced by encoding/json), Codec.EncodeBody produces the RFC 9254
// CBOR encoding keyed by SID deltas, and Codec.DecodeBody inverts it.
//
// Wire encoding itself is handled by github.com/fxamacker/cbor/v2, the
// same library the pack's sibling capability-system codec wraps; this
// package only builds the intermediate Go value tree that library then
// marshals/unmarshals, mirroring that sibling's map[string]interface{}
// style rather than generated struct tags (the schema is not known at
// compile time).
package cbor

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"github.com/hwkim3330/velocitydrivesp-support/internal/logging"
	"github.com/hwkim3330/velocitydrivesp-support/internal/yang"
)

// ContentFormat selects the top-level envelope shape.
type ContentFormat int

const (
	FormatYang ContentFormat = iota
	FormatGet
	FormatPut
	FormatFetch
	FormatIPatch
	FormatPost
)

// Numeric CoAP content-format identifiers.
const (
	CfTextPlain        = 0
	CfApplicationLink  = 40
	CfXML              = 41
	CfJSON             = 50
	CfCBOR             = 60
	CfYangDataCBOR     = 140
	CfYangIdentCBOR    = 141
	CfYangInstanceCBOR = 142
)

// Codec binds a schema tree to the encode/decode operations. ContinueOnError
// governs whether recoverable schema/codec errors raise or merely warn.
type Codec struct {
	Tree            *yang.Tree
	ContinueOnError bool
}

func New(tree *yang.Tree, continueOnError bool) *Codec {
	return &Codec{Tree: tree, ContinueOnError: continueOnError}
}

func (c *Codec) warnOrFail(format string, args ...interface{}) error {
	if c.ContinueOnError {
		logging.Warnf(format, args...)
		return nil
	}
	return fmt.Errorf(format, args...)
}

// EncodeBody encodes a JSON-shaped value rooted at node into the CBOR byte
// sequence appropriate for cf.
func (c *Codec) EncodeBody(node *yang.Node, value interface{}, cf ContentFormat) ([]byte, error) {
	switch cf {
	case FormatFetch, FormatIPatch, FormatPost:
		items, ok := value.([]interface{})
		if !ok {
			return nil, errors.Errorf("content format requires an array of items")
		}
		var out []byte
		for _, it := range items {
			enc, err := c.encodeItem(node, it, cf)
			if err != nil {
				return nil, err
			}
			raw, err := cbor.Marshal(enc)
			if err != nil {
				return nil, errors.Wrap(err, "cbor marshal item")
			}
			out = append(out, raw...)
		}
		return out, nil
	default:
		enc, err := c.encode(node, value)
		if err != nil {
			return nil, err
		}
		return cbor.Marshal(enc)
	}
}

// encodeItem handles one fetch/ipatch/post array element: either a bare
// instance-identifier (request item) or a {iid: value} map (response item).
func (c *Codec) encodeItem(node *yang.Node, item interface{}, cf ContentFormat) (interface{}, error) {
	m, ok := item.(map[string]interface{})
	if !ok {
		// bare instance-identifier request item
		iid, ok := item.(string)
		if !ok {
			return nil, errors.Errorf("fetch request item must be an instance-identifier string")
		}
		return EncodeIID(c.Tree, iid)
	}
	if len(m) != 1 {
		return nil, errors.Errorf("expected single-key {iid: value} map, got %d keys", len(m))
	}
	for iid, v := range m {
		target := c.Tree.ResolveSchemaPath(c.Tree.Root(), splitIID(iid))
		if target == nil {
			if err := c.warnOrFail("cbor: unresolvable instance-identifier %q", iid); err != nil {
				return nil, err
			}
			continue
		}
		if v == nil && (cf == FormatFetch || cf == FormatIPatch) {
			encIID, err := EncodeIID(c.Tree, iid)
			if err != nil {
				return nil, err
			}
			return map[interface{}]interface{}{encIID: nil}, nil
		}
		encVal, err := c.encode(target, v)
		if err != nil {
			return nil, err
		}
		encIID, err := EncodeIID(c.Tree, iid)
		if err != nil {
			return nil, err
		}
		return map[interface{}]interface{}{encIID: encVal}, nil
	}
	return nil, nil
}

func splitIID(iid string) []string {
	segs, _ := splitInstanceID(iid)
	names := make([]string, 0, len(segs))
	for _, s := range segs {
		names = append(names, s.arg)
	}
	return names
}

// encode implements the encode(node, value) dispatch.
func (c *Codec) encode(node *yang.Node, value interface{}) (interface{}, error) {
	switch node.Keyword {
	case yang.KwModule, yang.KwContainer, yang.KwInput, yang.KwOutput:
		m, ok := value.(map[string]interface{})
		if !ok {
			return nil, errors.Errorf("node %q requires a JSON object", node.Arg)
		}
		return c.encodeMap(node, m)

	case yang.KwList:
		switch v := value.(type) {
		case []interface{}:
			var out []interface{}
			for _, entry := range v {
				em, ok := entry.(map[string]interface{})
				if !ok {
					return nil, errors.Errorf("list %q entries must be objects", node.Arg)
				}
				enc, err := c.encodeMap(node, em)
				if err != nil {
					return nil, err
				}
				out = append(out, enc)
			}
			return out, nil
		case map[string]interface{}:
			return c.encodeMap(node, v)
		default:
			return nil, errors.Errorf("list %q requires an array or single entry map", node.Arg)
		}

	case yang.KwLeaf:
		return c.typeEncode(node.Type, value, false)

	case yang.KwLeafList:
		arr, ok := value.([]interface{})
		if !ok {
			return nil, errors.Errorf("leaf-list %q requires an array", node.Arg)
		}
		out := make([]interface{}, 0, len(arr))
		for _, v := range arr {
			ev, err := c.typeEncode(node.Type, v, false)
			if err != nil {
				return nil, err
			}
			out = append(out, ev)
		}
		return out, nil

	case yang.KwRPC, yang.KwAction:
		m, ok := value.(map[string]interface{})
		if !ok || len(m) != 1 {
			return nil, errors.Errorf("rpc/action %q requires a single {input|output: map}", node.Arg)
		}
		for kw, body := range m {
			child := c.Tree.SubstmByArg(node, kw)
			if child == nil {
				return nil, errors.Errorf("rpc/action %q has no %q", node.Arg, kw)
			}
			bm, ok := body.(map[string]interface{})
			if !ok {
				return nil, errors.Errorf("rpc/action %q:%q requires a map", node.Arg, kw)
			}
			encBody, err := c.encodeMapRelativeTo(child, bm, node)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{kw: encBody}, nil
		}
		return nil, nil

	case yang.KwAnydata, yang.KwAnyxml:
		if node.Arg == "board:factory_default_config" {
			m, ok := value.(map[string]interface{})
			if !ok {
				return nil, errors.Errorf("factory_default_config requires an object")
			}
			return c.encodeMap(c.Tree.Root(), m)
		}
		return value, nil

	default:
		return value, nil
	}
}

// encodeMap encodes node's children keyed by delta = child.sid - node.sid
// (root is treated as sid 0).
func (c *Codec) encodeMap(node *yang.Node, m map[string]interface{}) (interface{}, error) {
	return c.encodeMapRelativeTo(node, m, node)
}

// encodeMapRelativeTo encodes m's keys as children of node, with deltas
// computed against relTo's SID (used for rpc/action input/output, which
// are keyed relative to the rpc/action node itself, not its own SID).
func (c *Codec) encodeMapRelativeTo(node *yang.Node, m map[string]interface{}, relTo *yang.Node) (interface{}, error) {
	out := make(map[int64]interface{}, len(m))
	baseSID := 0
	if relTo.HasSID {
		baseSID = relTo.SID
	}
	for arg, v := range m {
		child := c.Tree.SubstmByArg(node, arg)
		if child == nil || !child.HasSID {
			if err := c.warnOrFail("cbor: unknown or sidless child %q under %q, skipping", arg, node.Arg); err != nil {
				return nil, err
			}
			continue
		}
		enc, err := c.encode(child, v)
		if err != nil {
			return nil, err
		}
		out[int64(child.SID-baseSID)] = enc
	}
	return out, nil
}

// typeEncode implements the per-type encoding table.
func (c *Codec) typeEncode(t *yang.Type, value interface{}, inUnion bool) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	switch t.Name {
	case "enumeration":
		name, ok := value.(string)
		if !ok {
			return nil, errors.Errorf("enumeration requires a string")
		}
		v, ok := t.Enums[name]
		if !ok {
			return nil, errors.Errorf("unknown enum member %q", name)
		}
		if inUnion {
			return cbor.Tag{Number: 44, Content: name}, nil
		}
		return v, nil

	case "bits":
		names := strings.Fields(fmt.Sprint(value))
		positions := make([]int, 0, len(names))
		for _, n := range names {
			p, ok := t.Bits[n]
			if !ok {
				return nil, errors.Errorf("unknown bit name %q", n)
			}
			positions = append(positions, p)
		}
		if inUnion {
			return cbor.Tag{Number: 43, Content: strings.Join(names, " ")}, nil
		}
		sort.Ints(positions)
		return encodeBits(positions), nil

	case "identityref":
		name, ok := value.(string)
		if !ok {
			return nil, errors.Errorf("identityref requires a string")
		}
		sid, err := c.resolveIdentitySID(t, name)
		if err != nil {
			return nil, err
		}
		if inUnion {
			return cbor.Tag{Number: 45, Content: sid}, nil
		}
		return sid, nil

	case "decimal64":
		mant, exp, err := decimal64ToMantExp(value, t.FractionDigits)
		if err != nil {
			return nil, err
		}
		return cbor.Tag{Number: 4, Content: []interface{}{-exp, mant}}, nil

	case "binary":
		s, ok := value.(string)
		if !ok {
			return nil, errors.Errorf("binary requires a base64 string")
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, errors.Wrap(err, "decode base64 binary")
		}
		return b, nil

	case "int64", "uint64":
		s, ok := value.(string)
		if !ok {
			return nil, errors.Errorf("%s requires a string-encoded integer", t.Name)
		}
		if t.Name == "int64" {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, errors.Wrap(err, "parse int64")
			}
			return n, nil
		}
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, errors.Wrap(err, "parse uint64")
		}
		return n, nil

	case "leafref":
		target := c.Tree.Node(t.LeafrefTargetID)
		if target == nil || target.Type == nil {
			return nil, errors.Errorf("unresolved leafref target")
		}
		return c.typeEncode(target.Type, value, inUnion)

	case "empty":
		return nil, nil

	case "instance-identifier":
		s, ok := value.(string)
		if !ok {
			return nil, errors.Errorf("instance-identifier requires a string")
		}
		return EncodeIID(c.Tree, s)

	case "union":
		for _, member := range t.Union {
			if matchTypeJSON(member, value) {
				return c.typeEncode(member, value, true)
			}
		}
		return nil, errors.Errorf("no union member matches value %v", value)

	default:
		return value, nil
	}
}

// resolveIdentitySID looks up the SID of the YANG identity named by name
// (bare or "module:"-qualified). Identity statements arrive as ordinary
// top-level nodes with Keyword == yang.KwIdentity, Arg already qualified
// "module:name", and a SID of their own, so no separate identity registry
// is needed, just a scan over the resolved tree.
func (c *Codec) resolveIdentitySID(t *yang.Type, name string) (int, error) {
	qualified := name
	if !strings.Contains(name, ":") && t.IdentityModule != "" {
		qualified = t.IdentityModule + ":" + name
	}
	for _, n := range c.Tree.AllNodes() {
		if n.Keyword == yang.KwIdentity && n.HasSID && (n.Arg == name || n.Arg == qualified) {
			return n.SID, nil
		}
	}
	if n, err := strconv.Atoi(name); err == nil {
		return n, nil
	}
	return 0, errors.Errorf("identity %q not found for type rooted at module %q", name, t.IdentityModule)
}

// encodeBits implements a sweep algorithm over sorted bit positions:
// contiguous bytes accumulate into one run; a gap between runs flushes the
// current byte-string, appends the gap measured in 8-bit units, and opens a
// new window. A single run yields a bare byte-string; multiple runs yield
// an array alternating byte-strings and integer gaps.
func encodeBits(positions []int) interface{} {
	if len(positions) == 0 {
		return []interface{}{}
	}

	var out []interface{}
	var curBytes []byte
	lastByteIdx := -1

	flush := func() { out = append(out, curBytes) }

	for i, p := range positions {
		byteIdx := p / 8
		bitInByte := p % 8
		switch {
		case i == 0:
			curBytes = []byte{0}
		case byteIdx == lastByteIdx:
			// another bit in the same byte
		case byteIdx == lastByteIdx+1:
			curBytes = append(curBytes, 0)
		default:
			flush()
			out = append(out, byteIdx-lastByteIdx-1)
			curBytes = []byte{0}
		}
		curBytes[len(curBytes)-1] |= 1 << uint(bitInByte)
		lastByteIdx = byteIdx
	}

	if len(out) == 0 {
		return curBytes
	}
	flush()
	return out
}

// decimal64ToMantExp converts a JSON-carried decimal string or number into
// the tag-4 [exponent, mantissa] pair at the type's fixed fraction-digits.
func decimal64ToMantExp(value interface{}, fractionDigits int) (int64, int, error) {
	s := fmt.Sprint(value)
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
	if len(fracPart) > fractionDigits {
		fracPart = fracPart[:fractionDigits]
	}
	digits := intPart + fracPart
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, 0, errors.Wrap(err, "parse decimal64")
	}
	if neg {
		n = -n
	}
	return n, fractionDigits, nil
}
