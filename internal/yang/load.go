package yang

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// doc is the on-disk shape of a resolved schema module: a nested JSON tree
// rather than the flat arena Tree uses internally. This is the format the
// external normalizer (pyang/yanglint + an RFC 9595 SID map) is expected to
// emit; no YANG grammar is parsed here (Non-goal: the schema always
// arrives pre-resolved with SIDs attached).
type doc struct {
	Keyword        string         `json:"keyword"`
	Argument       string         `json:"argument"`
	Config         bool           `json:"config"`
	Default        string         `json:"default,omitempty"`
	SID            *int           `json:"sid,omitempty"`
	Keys           []string       `json:"keys,omitempty"`
	Type           *docType       `json:"type,omitempty"`
	Substatements  []*doc         `json:"substatements,omitempty"`
}

type docType struct {
	Name           string         `json:"name"`
	Ranges         []docRange     `json:"ranges,omitempty"`
	LengthRanges   []docRange     `json:"length-ranges,omitempty"`
	Patterns       []string       `json:"patterns,omitempty"`
	Bits           map[string]int `json:"bits,omitempty"`
	Enums          map[string]int `json:"enums,omitempty"`
	Union          []*docType     `json:"union,omitempty"`
	LeafrefTarget  string         `json:"leafref-target,omitempty"`
	IdentityBases  []string       `json:"identity-bases,omitempty"`
	IdentityModule string         `json:"identity-module,omitempty"`
	FractionDigits int            `json:"fraction-digits,omitempty"`
}

type docRange struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
}

// LoadFile parses a single resolved-schema JSON document (one module) into
// a fresh Tree.
func LoadFile(path string) (*Tree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "yang: open %s", path)
	}
	defer f.Close()

	var root doc
	if err := json.NewDecoder(f).Decode(&root); err != nil {
		return nil, errors.Wrapf(err, "yang: decode %s", path)
	}

	tree := NewTree()
	leafrefs := map[int]string{} // node id -> target path, resolved after the full tree is built
	addDoc(tree, -1, &root, leafrefs)
	resolveLeafrefs(tree, leafrefs)
	return tree, nil
}

func addDoc(tree *Tree, parentID int, d *doc, leafrefs map[int]string) int {
	n := &Node{
		Keyword: Keyword(d.Keyword),
		Arg:     d.Argument,
		Config:  d.Config,
		Default: d.Default,
		Keys:    d.Keys,
	}
	if d.SID != nil {
		n.HasSID = true
		n.SID = *d.SID
	}
	if d.Type != nil {
		n.Type = convertType(d.Type)
	}
	id := tree.AddNode(parentID, n)

	if d.Type != nil && d.Type.LeafrefTarget != "" {
		leafrefs[id] = d.Type.LeafrefTarget
	}

	for _, child := range d.Substatements {
		addDoc(tree, id, child, leafrefs)
	}
	return id
}

func convertType(d *docType) *Type {
	t := &Type{
		Name:           d.Name,
		Patterns:       d.Patterns,
		Bits:           d.Bits,
		Enums:          d.Enums,
		IdentityBases:  d.IdentityBases,
		IdentityModule: d.IdentityModule,
		FractionDigits: d.FractionDigits,
	}
	for _, r := range d.Ranges {
		t.Ranges = append(t.Ranges, Range{Min: r.Min, Max: r.Max})
	}
	for _, r := range d.LengthRanges {
		t.LengthRanges = append(t.LengthRanges, Range{Min: r.Min, Max: r.Max})
	}
	for _, u := range d.Union {
		t.Union = append(t.Union, convertType(u))
	}
	return t
}

// resolveLeafrefs walks the schema paths recorded during parsing and sets
// each leafref Type's LeafrefTargetID now that every node has an id.
func resolveLeafrefs(tree *Tree, leafrefs map[int]string) {
	for id, path := range leafrefs {
		n := tree.Node(id)
		if n == nil || n.Type == nil {
			continue
		}
		target := tree.ResolveSchemaPath(tree.Root(), splitAbsolutePath(path))
		if target != nil {
			n.Type.LeafrefTargetID = target.ID
		}
	}
}

func splitAbsolutePath(path string) []string {
	var segs []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			if i > start {
				segs = append(segs, path[start:i])
			}
			start = i + 1
		}
	}
	if start < len(path) {
		segs = append(segs, path[start:])
	}
	return segs
}
