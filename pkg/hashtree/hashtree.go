// Package hashtree implements the content-addressed prefix tree that
// summarizes a universe's view of one tenant root. All operations are pure
// and in-memory: no I/O, no suspension, so a snapshot can be taken from any
// goroutine without additional locking.
package hashtree

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/cuemby/tenantsync/pkg/types"
)

// Node is one path segment of the tree. Its hash depends only on its own
// attribute fingerprint and the multiset of its children's hashes — never
// on insertion order, and never on a parent back-reference — DN is the
// sole linking primitive.
type Node struct {
	Key         string            `json:"key"`
	Fingerprint string            `json:"fingerprint"`
	Class       string            `json:"class,omitempty"`
	Attrs       map[string]string `json:"attrs,omitempty"`
	// PreExisting marks a leaf folded in from a monitored object taken
	// over into config. It carries no weight in the node's hash — only
	// the attribute content does — so it never causes a spurious diff on
	// its own; callers consult it to decide whether a missing-from-desired
	// leaf should actually be deleted.
	PreExisting bool             `json:"pre_existing,omitempty"`
	Children    map[string]*Node `json:"children,omitempty"`
	Hash        string           `json:"hash"`
}

func newNode(key string) *Node {
	return &Node{Key: key, Children: map[string]*Node{}}
}

func (n *Node) empty() bool {
	return n.Fingerprint == "" && len(n.Children) == 0
}

func digest(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (n *Node) recomputeHash() {
	childHashes := make([]string, 0, len(n.Children))
	for _, c := range n.Children {
		childHashes = append(childHashes, c.Hash)
	}
	sort.Strings(childHashes)
	n.Hash = digest(append([]string{n.Fingerprint}, childHashes...)...)
}

// Tree is a prefix tree keyed by DN segments, one per tenant root.
type Tree struct {
	Root *Node `json:"root"`
}

// New returns an empty tree.
func New() *Tree {
	root := newNode("")
	root.recomputeHash()
	return &Tree{Root: root}
}

func segments(dn types.DN) []string {
	s := string(dn)
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// fingerprintOf produces a stable digest over an attribute map.
func fingerprintOf(attrs map[string]string) string {
	if len(attrs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		parts = append(parts, k, attrs[k])
	}
	return digest(parts...)
}

// pathNodes walks from root to the node at dn, creating intermediate nodes
// as needed, and returns the chain root..leaf for hash recomputation.
func (t *Tree) pathNodes(dn types.DN, create bool) []*Node {
	chain := []*Node{t.Root}
	cur := t.Root
	for _, seg := range segments(dn) {
		child, ok := cur.Children[seg]
		if !ok {
			if !create {
				return nil
			}
			child = newNode(seg)
			cur.Children[seg] = child
		}
		chain = append(chain, child)
		cur = child
	}
	return chain
}

func recomputeChain(chain []*Node) {
	for i := len(chain) - 1; i >= 0; i-- {
		chain[i].recomputeHash()
	}
}

// Update applies a batch of object attribute sets, creating nodes along
// each path as needed. Rehashing touches only the affected paths.
func Update(t *Tree, objects []*types.ModelObject) {
	for _, obj := range objects {
		fp := fingerprintOf(obj.Attrs)
		chain := t.pathNodes(obj.DN, true)
		leaf := chain[len(chain)-1]
		if leaf.Fingerprint == fp {
			// idempotent: equal fingerprint leaves the hash unchanged
			continue
		}
		leaf.Fingerprint = fp
		leaf.Class = obj.Class
		leaf.Attrs = obj.Attrs
		leaf.PreExisting = obj.PreExisting
		recomputeChain(chain)
	}
}

// Delete removes a batch of objects. Deleting a non-existent path is a
// no-op. A node with no attributes and no children left is pruned.
func Delete(t *Tree, objects []*types.ModelObject) {
	dirty := false
	for _, obj := range objects {
		segs := segments(obj.DN)
		chain := t.pathNodes(obj.DN, false)
		if chain == nil {
			continue
		}
		dirty = true
		leaf := chain[len(chain)-1]
		leaf.Fingerprint = ""
		leaf.Class = ""
		leaf.Attrs = nil

		// prune from the leaf upward while nodes are empty
		for i := len(chain) - 1; i > 0; i-- {
			node := chain[i]
			parent := chain[i-1]
			if node.empty() {
				delete(parent.Children, segs[i-1])
			} else {
				break
			}
		}
	}
	if dirty {
		// Pruning can remove nodes anywhere in the tree, so a full
		// bottom-up recompute is simplest and still touches only
		// in-memory structures (no suspension).
		recomputeAll(t.Root)
	}
}

func recomputeAll(n *Node) string {
	childHashes := make([]string, 0, len(n.Children))
	for _, c := range n.Children {
		childHashes = append(childHashes, recomputeAll(c))
	}
	sort.Strings(childHashes)
	n.Hash = digest(append([]string{n.Fingerprint}, childHashes...)...)
	return n.Hash
}

// RootKey returns the full-tree content hash.
func (t *Tree) RootKey() string {
	if t == nil || t.Root == nil {
		return digest()
	}
	return t.Root.Hash
}

// Diff reports which DN-keyed leaves differ between a and b. Add lists keys
// present in b but absent or different in a; Remove lists keys present in a
// but absent or different in b. Symmetric under swap of outputs:
// Diff(a,b).Add == Diff(b,a).Remove.
type Diff struct {
	Add    []string
	Remove []string
}

func leaves(n *Node, prefix string, out map[string]string) {
	path := prefix
	if n.Key != "" {
		if prefix == "" {
			path = n.Key
		} else {
			path = prefix + "/" + n.Key
		}
	}
	if n.Fingerprint != "" {
		out[path] = n.Fingerprint
	}
	for _, c := range n.Children {
		leaves(c, path, out)
	}
}

// Leaf is one fingerprinted node, addressable by its DN, carried alongside
// its class and attributes so callers can reconstruct a Model object
// without re-reading the original source.
type Leaf struct {
	DN          types.DN
	Class       string
	Attrs       map[string]string
	PreExisting bool
}

func collectLeaves(n *Node, prefix string, out map[types.DN]Leaf) {
	path := prefix
	if n.Key != "" {
		if prefix == "" {
			path = n.Key
		} else {
			path = prefix + "/" + n.Key
		}
	}
	if n.Fingerprint != "" {
		out[types.DN(path)] = Leaf{DN: types.DN(path), Class: n.Class, Attrs: n.Attrs, PreExisting: n.PreExisting}
	}
	for _, c := range n.Children {
		collectLeaves(c, path, out)
	}
}

// Leaves returns every fingerprinted node in the tree, keyed by DN.
func Leaves(t *Tree) map[types.DN]Leaf {
	out := map[types.DN]Leaf{}
	if t != nil && t.Root != nil {
		collectLeaves(t.Root, "", out)
	}
	return out
}

// DiffTrees computes the leaf-level diff between two trees.
func DiffTrees(a, b *Tree) Diff {
	la := map[string]string{}
	lb := map[string]string{}
	if a != nil && a.Root != nil {
		leaves(a.Root, "", la)
	}
	if b != nil && b.Root != nil {
		leaves(b.Root, "", lb)
	}
	var d Diff
	for k, vb := range lb {
		if va, ok := la[k]; !ok || va != vb {
			d.Add = append(d.Add, k)
		}
	}
	for k, va := range la {
		if vb, ok := lb[k]; !ok || vb != va {
			d.Remove = append(d.Remove, k)
		}
	}
	sort.Strings(d.Add)
	sort.Strings(d.Remove)
	return d
}

// Serialize produces a deterministic byte encoding. It must never suspend:
// it touches only in-memory structures, so SnapshotConfig/Operational/
// Monitored callers never need to coordinate with the tree's writer beyond
// this call.
func Serialize(t *Tree) ([]byte, error) {
	if t == nil {
		t = New()
	}
	return json.Marshal(t)
}

// Deserialize is the exact inverse of Serialize: Deserialize(Serialize(t))
// reproduces t's structure and hashes.
func Deserialize(data []byte) (*Tree, error) {
	var t Tree
	if len(data) == 0 {
		return New(), nil
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	if t.Root == nil {
		t.Root = newNode("")
	}
	return &t, nil
}

// Clone takes a deep, independent copy via the serialize/deserialize
// roundtrip — a non-suspending way to snapshot a tree that may still be
// mutated concurrently.
func Clone(t *Tree) *Tree {
	data, err := Serialize(t)
	if err != nil {
		return New()
	}
	cp, err := Deserialize(data)
	if err != nil {
		return New()
	}
	return cp
}
