// JSON Schema emission and validation, grounded on the pack's sibling validator
// (_examples/filegrind-capns-go/cap/schema_validation.go), which wraps
// github.com/xeipuuv/gojsonschema the same way: build a draft-07 document
// as a plain map, marshal it, and hand it to gojsonschema.Validate.
package cbor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/hwkim3330/velocitydrivesp-support/internal/yang"
)

// Schema is a draft-07 subschema, built as a map so nodes without a fixed
// Go shape (oneOf, enum, pattern) stay simple to assemble.
type Schema map[string]interface{}

// EmitSchema builds the draft-07 JSON Schema for node under cf:
// lists become arrays with uniqueItems for configuration lists (fetch/
// ipatch additionally allow a single-entry object via oneOf), int64/
// uint64/decimal64 become pattern-constrained strings, binary becomes a
// length-bounded base64 string, bits becomes a space-separated name
// pattern, and identityref becomes an enum of "mod:name" plus the bare
// local name.
func EmitSchema(tree *yang.Tree, node *yang.Node, cf ContentFormat) Schema {
	s := emitNode(tree, node, cf)
	s["$schema"] = "http://json-schema.org/draft-07/schema#"
	return s
}

func emitNode(tree *yang.Tree, n *yang.Node, cf ContentFormat) Schema {
	switch n.Keyword {
	case yang.KwModule, yang.KwContainer, yang.KwInput, yang.KwOutput:
		return emitObject(tree, n, cf)
	case yang.KwList:
		return emitList(tree, n, cf)
	case yang.KwLeaf:
		return emitLeafType(n.Type)
	case yang.KwLeafList:
		return Schema{"type": "array", "items": emitLeafType(n.Type)}
	default:
		return Schema{}
	}
}

func emitObject(tree *yang.Tree, n *yang.Node, cf ContentFormat) Schema {
	props := Schema{}
	for _, c := range tree.Substms(n) {
		if skipStatus(c, cf) {
			continue
		}
		props[c.Arg] = emitNode(tree, c, cf)
	}
	return Schema{"type": "object", "properties": props}
}

// skipStatus omits status (non-config) nodes for ipatch/put, which only
// ever carry configuration data.
func skipStatus(n *yang.Node, cf ContentFormat) bool {
	if cf != FormatIPatch && cf != FormatPut {
		return false
	}
	return !n.Config
}

func emitList(tree *yang.Tree, n *yang.Node, cf ContentFormat) Schema {
	entry := emitObject(tree, n, cf)
	arr := Schema{"type": "array", "items": entry}
	if n.Config {
		arr["uniqueItems"] = true
	}
	if cf == FormatFetch || cf == FormatIPatch {
		// A fetch/ipatch payload may carry a single entry bare instead of
		// wrapped in an array.
		return Schema{"oneOf": []Schema{arr, entry}}
	}
	return arr
}

func emitLeafType(t *yang.Type) Schema {
	if t == nil {
		return Schema{}
	}
	switch t.Name {
	case "int64", "uint64", "decimal64":
		return Schema{"type": "string", "pattern": `^-?[0-9]+(\.[0-9]+)?$`}
	case "binary":
		s := Schema{"type": "string", "contentEncoding": "base64"}
		if len(t.LengthRanges) > 0 {
			s["minLength"] = t.LengthRanges[0].Min
			s["maxLength"] = t.LengthRanges[len(t.LengthRanges)-1].Max
		}
		return s
	case "bits":
		names := sortedKeys(t.Bits)
		alt := strings.Join(names, "|")
		return Schema{"type": "string", "pattern": fmt.Sprintf(`^(%s)?(\s(%s))*$`, alt, alt)}
	case "enumeration":
		return Schema{"type": "string", "enum": sortedKeys(t.Enums)}
	case "identityref":
		// The schema tree doesn't track identity derivation edges, only a
		// leaf's own base names, so this lists the declared bases rather
		// than every identity actually derived from them.
		var vals []string
		for _, base := range t.IdentityBases {
			vals = append(vals, t.IdentityModule+":"+base, base)
		}
		return Schema{"type": "string", "enum": vals}
	case "boolean":
		return Schema{"type": "boolean"}
	case "empty":
		return Schema{"type": "null"}
	case "union":
		var members []Schema
		for _, m := range t.Union {
			members = append(members, emitLeafType(m))
		}
		return Schema{"oneOf": members}
	case "int8", "int16", "int32", "uint8", "uint16", "uint32":
		s := Schema{"type": "integer"}
		if len(t.Ranges) > 0 {
			s["minimum"] = t.Ranges[0].Min
			s["maximum"] = t.Ranges[len(t.Ranges)-1].Max
		}
		return s
	default:
		s := Schema{"type": "string"}
		if len(t.Patterns) > 0 {
			s["pattern"] = t.Patterns[0]
		}
		return s
	}
}

func sortedKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	// Stable, deterministic emission; names are typically already short
	// identifiers so a plain insertion sort is fine at schema-build sizes.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Validate checks value (already decoded to the usual JSON Go shape)
// against schema. Callers that want a soft warning instead of a hard
// error should inspect the returned error and log rather than propagate it.
func Validate(schema Schema, value interface{}) error {
	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("jsonschema: marshal schema: %w", err)
	}
	valueBytes, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("jsonschema: marshal value: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaBytes),
		gojsonschema.NewBytesLoader(valueBytes),
	)
	if err != nil {
		return fmt.Errorf("jsonschema: validate: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("jsonschema: %s", strings.Join(msgs, "; "))
	}
	return nil
}
