// Package yang holds the in-memory YANG schema tree consumed by the
// CBOR/JSON codec (internal/cbor). This package does not parse YANG
// source: an external tool normalizes modules and attaches SIDs per
// RFC 9595, and this tree is built from that resolved representation
// (see load.go's LoadFile for the arena-backed construction, and
// internal/yang/cache for the on-disk snapshot of a built Tree).
package yang

// Keyword enumerates the YANG statement kinds this toolkit cares about.
type Keyword string

const (
	KwModule     Keyword = "module"
	KwContainer  Keyword = "container"
	KwList       Keyword = "list"
	KwLeaf       Keyword = "leaf"
	KwLeafList   Keyword = "leaf-list"
	KwChoice     Keyword = "choice"
	KwCase       Keyword = "case"
	KwRPC        Keyword = "rpc"
	KwAction     Keyword = "action"
	KwInput      Keyword = "input"
	KwOutput     Keyword = "output"
	KwAnydata    Keyword = "anydata"
	KwAnyxml     Keyword = "anyxml"
	KwGrouping   Keyword = "grouping"
	KwIdentity   Keyword = "identity"
	KwTypedef    Keyword = "typedef"
)

// Range is an inclusive numeric or length range.
type Range struct{ Min, Max int64 }

// Type carries a leaf/leaf-list's type contract.
type Type struct {
	Name string // builtin type name, e.g. "int32", "string", "identityref"

	Ranges        []Range // integer / decimal64 value ranges
	LengthRanges  []Range // string / binary length ranges
	Patterns      []string

	Bits  map[string]int // bit name -> position
	Enums map[string]int // enum name -> value

	Union []*Type // member types, in declaration order, when Name == "union"

	LeafrefTargetID int // node id of the referenced leaf, resolved at build time

	IdentityBases []string // base identity names, for identityref
	IdentityModule string  // module owning this identityref type

	FractionDigits int // decimal64
}

// Node is one statement in the schema tree. Nodes are arena-allocated and
// addressed by integer ID so that leafref/grouping back-references don't
// need strong pointers into a tree that may have cycles at the grouping
// level.
type Node struct {
	ID       int
	Keyword  Keyword
	Arg      string // argument, qualified with "module:" at top level
	Config   bool
	Default  string
	HasSID   bool
	SID      int
	Keys     []string // ordered key leaf names, for list nodes
	Type     *Type
	ParentID int // -1 for the root

	substms []int // child node IDs, in declaration order (the resolved
	// document is expected to list a list node's keyed leaves first, per
	// its own "key" statement; this tree does not reorder them)
}

// Tree is the arena of nodes plus convenience indexes.
type Tree struct {
	nodes    []*Node
	byArgAt  map[int]map[string]int // parentID -> arg -> childID
	bySID    map[int]int            // sid -> nodeID
	rootID   int
}

func NewTree() *Tree {
	return &Tree{
		byArgAt: make(map[int]map[string]int),
		bySID:   make(map[int]int),
		rootID:  -1,
	}
}

// AddNode inserts a node under parentID (-1 for the tree root) and
// returns its assigned ID.
func (t *Tree) AddNode(parentID int, n *Node) int {
	n.ID = len(t.nodes)
	n.ParentID = parentID
	t.nodes = append(t.nodes, n)

	if parentID == -1 {
		t.rootID = n.ID
	} else {
		parent := t.nodes[parentID]
		parent.substms = append(parent.substms, n.ID)
	}

	if _, ok := t.byArgAt[parentID]; !ok {
		t.byArgAt[parentID] = make(map[string]int)
	}
	t.byArgAt[parentID][n.Arg] = n.ID

	if n.HasSID {
		t.bySID[n.SID] = n.ID
	}
	return n.ID
}

func (t *Tree) Node(id int) *Node {
	if id < 0 || id >= len(t.nodes) {
		return nil
	}
	return t.nodes[id]
}

func (t *Tree) Root() *Node { return t.Node(t.rootID) }

// AllNodes and RootID expose the arena for serialization (internal/yang/cache);
// callers elsewhere should prefer Node/Root/Substms.
func (t *Tree) AllNodes() []*Node { return t.nodes }
func (t *Tree) RootID() int       { return t.rootID }

// FromNodes rebuilds a Tree from a flat node arena plus root id, re-deriving
// each node's child list (from ParentID, in ID order) and the byArgAt/bySID
// indexes. Used to reload a tree persisted by internal/yang/cache without
// re-running schema resolution.
func FromNodes(nodes []*Node, rootID int) *Tree {
	t := &Tree{
		nodes:   nodes,
		byArgAt: make(map[int]map[string]int),
		bySID:   make(map[int]int),
		rootID:  rootID,
	}
	for _, n := range nodes {
		n.substms = nil
	}
	for _, n := range nodes {
		if n.ParentID >= 0 && n.ParentID < len(nodes) {
			parent := nodes[n.ParentID]
			parent.substms = append(parent.substms, n.ID)
		}
		if _, ok := t.byArgAt[n.ParentID]; !ok {
			t.byArgAt[n.ParentID] = make(map[string]int)
		}
		t.byArgAt[n.ParentID][n.Arg] = n.ID
		if n.HasSID {
			t.bySID[n.SID] = n.ID
		}
	}
	return t
}

// Substms returns a node's child nodes in declaration order. For list
// nodes the resolved document is expected to place keyed leaves first,
// per the list's own "key" statement; this is assumed from the upstream
// normalizer, not reordered or enforced here.
func (t *Tree) Substms(n *Node) []*Node {
	out := make([]*Node, 0, len(n.substms))
	for _, id := range n.substms {
		out = append(out, t.Node(id))
	}
	return out
}

// SubstmByArg finds an immediate child by its argument name.
func (t *Tree) SubstmByArg(n *Node, arg string) *Node {
	byArg, ok := t.byArgAt[n.ID]
	if !ok {
		return nil
	}
	id, ok := byArg[arg]
	if !ok {
		return nil
	}
	return t.Node(id)
}

// SubstmBySID finds an immediate child by absolute SID.
func (t *Tree) SubstmBySID(n *Node, sid int) *Node {
	for _, id := range n.substms {
		c := t.Node(id)
		if c.HasSID && c.SID == sid {
			return c
		}
	}
	return nil
}

// FindBySID looks up the node carrying the given absolute SID in the SID
// index, returning it together with the root-to-node path.
func (t *Tree) FindBySID(sid int) (*Node, []*Node) {
	if id, ok := t.bySID[sid]; ok {
		return t.Node(id), t.pathTo(id)
	}
	return nil, nil
}

func (t *Tree) pathTo(id int) []*Node {
	var rev []*Node
	for id != -1 {
		n := t.Node(id)
		rev = append(rev, n)
		id = n.ParentID
	}
	path := make([]*Node, len(rev))
	for i, n := range rev {
		path[len(rev)-1-i] = n
	}
	return path
}

// ResolveSchemaPath walks segments from n, honoring the rpc/action
// input/output implicit children and ".." to ascend to the parent.
func (t *Tree) ResolveSchemaPath(n *Node, segments []string) *Node {
	cur := n
	for _, seg := range segments {
		if cur == nil {
			return nil
		}
		if seg == ".." {
			cur = t.Node(cur.ParentID)
			continue
		}
		if (cur.Keyword == KwRPC || cur.Keyword == KwAction) && (seg == "input" || seg == "output") {
			cur = t.SubstmByArg(cur, seg)
			continue
		}
		cur = t.SubstmByArg(cur, seg)
	}
	return cur
}
