package cbor

import (
	"bytes"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"github.com/hwkim3330/velocitydrivesp-support/internal/yang"
)

func buildTree(t *testing.T) (*yang.Tree, *yang.Node) {
	t.Helper()
	tr := yang.NewTree()
	rootID := tr.AddNode(-1, &yang.Node{Keyword: yang.KwModule, Arg: "example"})
	root := tr.Node(rootID)

	contID := tr.AddNode(rootID, &yang.Node{Keyword: yang.KwContainer, Arg: "bridge", HasSID: true, SID: 1000})
	cont := tr.Node(contID)

	tr.AddNode(contID, &yang.Node{Keyword: yang.KwLeaf, Arg: "name", Type: &yang.Type{Name: "string"}, HasSID: true, SID: 1001})
	tr.AddNode(contID, &yang.Node{Keyword: yang.KwLeaf, Arg: "count", Type: &yang.Type{Name: "int64"}, HasSID: true, SID: 1002})
	_ = cont
	return tr, root
}

func TestEncodeMapDeltaSID(t *testing.T) {
	tr, root := buildTree(t)
	c := New(tr, false)
	bridge := tr.SubstmByArg(root, "bridge")

	raw, err := c.encode(bridge, map[string]interface{}{"name": "br0", "count": "3"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	m := raw.(map[int64]interface{})
	if m[1] != "br0" {
		t.Fatalf("expected delta-1 key for name, got %+v", m)
	}
	if m[2] != int64(3) {
		t.Fatalf("expected delta-2 key for count, got %+v", m)
	}
}

func TestEncodeDecodeRoundTripContainer(t *testing.T) {
	tr, root := buildTree(t)
	c := New(tr, false)

	raw, err := c.EncodeBody(root, map[string]interface{}{
		"bridge": map[string]interface{}{"name": "br0", "count": "7"},
	}, FormatYang)
	if err != nil {
		t.Fatalf("EncodeBody: %v", err)
	}

	back, err := c.DecodeBody(root, raw, FormatYang)
	if err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	m, ok := back.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map, got %T", back)
	}
	bridge, ok := m["bridge"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected nested bridge map, got %+v", m)
	}
	if bridge["name"] != "br0" || bridge["count"] != "7" {
		t.Fatalf("unexpected round trip: %+v", bridge)
	}
}

func TestBitsCompactEncodingWorkedExample(t *testing.T) {
	typ := &yang.Type{Name: "bits", Bits: map[string]int{"critical": 2, "warning": 8, "indeterminate": 128}}
	c := New(yang.NewTree(), false)

	got, err := c.typeEncode(typ, "warning critical indeterminate", false)
	if err != nil {
		t.Fatalf("typeEncode: %v", err)
	}
	arr, ok := got.([]interface{})
	if !ok || len(arr) != 3 {
		t.Fatalf("expected 3-element array, got %+v (%T)", got, got)
	}
	if b, ok := arr[0].([]byte); !ok || !bytes.Equal(b, []byte{0x04, 0x01}) {
		t.Fatalf("unexpected first run: %#v", arr[0])
	}
	if arr[1] != 14 {
		t.Fatalf("unexpected gap: %v", arr[1])
	}
	if b, ok := arr[2].([]byte); !ok || !bytes.Equal(b, []byte{0x01}) {
		t.Fatalf("unexpected second run: %#v", arr[2])
	}
}

func TestBitsRoundTrip(t *testing.T) {
	typ := &yang.Type{Name: "bits", Bits: map[string]int{"critical": 2, "warning": 8, "indeterminate": 128}}
	c := New(yang.NewTree(), false)

	enc, err := c.typeEncode(typ, "warning critical indeterminate", false)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	dec, err := decodeBits(typ, enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec != "critical warning indeterminate" {
		t.Fatalf("unexpected decode: %q", dec)
	}
}

func TestIdentityrefDecodeBySID(t *testing.T) {
	tr := yang.NewTree()
	rootID := tr.AddNode(-1, &yang.Node{Keyword: yang.KwModule, Arg: "iana-if-type"})
	// Top-level statements carry a module-qualified argument, so
	// an identity's Arg is already "module:name" the same way a leaf or
	// container's would be.
	tr.AddNode(rootID, &yang.Node{Keyword: yang.KwIdentity, Arg: "iana-if-type:ethernetCsmacd", HasSID: true, SID: 1880})

	c := New(tr, false)
	dec, err := c.decodeIdentityref(&yang.Type{Name: "identityref"}, int64(1880))
	if err != nil {
		t.Fatalf("decodeIdentityref: %v", err)
	}
	if dec != "iana-if-type:ethernetCsmacd" {
		t.Fatalf("expected iana-if-type:ethernetCsmacd, got %v", dec)
	}
}

// TestIdentityrefEncodeDecodeRoundTrip checks that an
// identityref encodes to its identity's bare integer SID at top level and
// round-trips back to the same module-qualified string.
func TestIdentityrefEncodeDecodeRoundTrip(t *testing.T) {
	tr := yang.NewTree()
	rootID := tr.AddNode(-1, &yang.Node{Keyword: yang.KwModule, Arg: "iana-if-type"})
	tr.AddNode(rootID, &yang.Node{Keyword: yang.KwIdentity, Arg: "iana-if-type:ethernetCsmacd", HasSID: true, SID: 1880})

	c := New(tr, false)
	typ := &yang.Type{Name: "identityref", IdentityModule: "iana-if-type", IdentityBases: []string{"interfaceType"}}

	enc, err := c.typeEncode(typ, "iana-if-type:ethernetCsmacd", false)
	if err != nil {
		t.Fatalf("typeEncode: %v", err)
	}
	if enc != 1880 {
		t.Fatalf("expected top-level SID 1880, got %v", enc)
	}

	encUnion, err := c.typeEncode(typ, "iana-if-type:ethernetCsmacd", true)
	if err != nil {
		t.Fatalf("typeEncode (union): %v", err)
	}
	tag, ok := encUnion.(cbor.Tag)
	if !ok || tag.Number != 45 || tag.Content != 1880 {
		t.Fatalf("expected tag(45, 1880) inside a union, got %+v", encUnion)
	}

	dec, err := c.typeDecode(typ, int64(1880), false)
	if err != nil {
		t.Fatalf("typeDecode: %v", err)
	}
	if dec != "iana-if-type:ethernetCsmacd" {
		t.Fatalf("expected round-trip to iana-if-type:ethernetCsmacd, got %v", dec)
	}
}

func TestDecimal64Tag(t *testing.T) {
	typ := &yang.Type{Name: "decimal64", FractionDigits: 2}
	c := New(yang.NewTree(), false)

	enc, err := c.typeEncode(typ, "3.14", false)
	if err != nil {
		t.Fatalf("typeEncode: %v", err)
	}
	tag, ok := enc.(cbor.Tag)
	if !ok || tag.Number != 4 {
		t.Fatalf("expected tag(4, ...), got %+v", enc)
	}

	dec, err := c.typeDecode(typ, tag, false)
	if err != nil {
		t.Fatalf("typeDecode: %v", err)
	}
	if dec != "3.14" {
		t.Fatalf("expected round trip to 3.14, got %v", dec)
	}
}

func TestUnionMemberSelection(t *testing.T) {
	typ := &yang.Type{
		Name: "union",
		Union: []*yang.Type{
			{Name: "int32", Ranges: []yang.Range{{Min: 0, Max: 100}}},
			{Name: "string"},
		},
	}
	c := New(yang.NewTree(), false)

	enc, err := c.typeEncode(typ, float64(42), false)
	if err != nil {
		t.Fatalf("typeEncode: %v", err)
	}
	if enc != float64(42) {
		t.Fatalf("expected the int32 member chosen (passthrough value), got %v (%T)", enc, enc)
	}

	// A non-numeric value fails the int32 member and falls through to the
	// string member.
	enc2, err := c.typeEncode(typ, "not-a-number", false)
	if err != nil {
		t.Fatalf("typeEncode: %v", err)
	}
	if enc2 != "not-a-number" {
		t.Fatalf("expected the string member chosen, got %v (%T)", enc2, enc2)
	}
}

func TestInstanceIdentifierEncodeDecode(t *testing.T) {
	tr := yang.NewTree()
	rootID := tr.AddNode(-1, &yang.Node{Keyword: yang.KwModule, Arg: "ietf-interfaces"})
	ifacesID := tr.AddNode(rootID, &yang.Node{Keyword: yang.KwContainer, Arg: "interfaces", HasSID: true, SID: 2000})
	listID := tr.AddNode(ifacesID, &yang.Node{Keyword: yang.KwList, Arg: "interface", Keys: []string{"name"}, HasSID: true, SID: 2001})
	tr.AddNode(listID, &yang.Node{Keyword: yang.KwLeaf, Arg: "name", Type: &yang.Type{Name: "string"}, HasSID: true, SID: 2002})

	enc, err := EncodeIID(tr, "/interfaces/interface[name='eth0']")
	if err != nil {
		t.Fatalf("EncodeIID: %v", err)
	}
	arr, ok := enc.([]interface{})
	if !ok || len(arr) != 2 || arr[0] != 2001 || arr[1] != "eth0" {
		t.Fatalf("unexpected encode result: %+v", enc)
	}

	back, err := DecodeIID(tr, []interface{}{int64(2001), "eth0"})
	if err != nil {
		t.Fatalf("DecodeIID: %v", err)
	}
	want := "/interfaces/interface[name='eth0']"
	if back != want {
		t.Fatalf("expected %q, got %q", want, back)
	}
}

func TestInstanceIdentifierNoKeysBareSID(t *testing.T) {
	tr := yang.NewTree()
	rootID := tr.AddNode(-1, &yang.Node{Keyword: yang.KwModule, Arg: "ietf-interfaces"})
	tr.AddNode(rootID, &yang.Node{Keyword: yang.KwContainer, Arg: "interfaces", HasSID: true, SID: 2000})

	enc, err := EncodeIID(tr, "/interfaces")
	if err != nil {
		t.Fatalf("EncodeIID: %v", err)
	}
	if enc != 2000 {
		t.Fatalf("expected bare sid 2000, got %+v", enc)
	}
}
