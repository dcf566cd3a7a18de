// Package state implements the authenticated state trie: a
// Merkle-Patricia Trie whose nodes are addressed by content hash
// rather than by pointer, so there is never a back-reference to chase
// or invalidate — every lookup is a hash-keyed read through a
// NodeStore.
package state

import (
	"encoding/binary"
	"fmt"

	"github.com/dotlanth/dotvm/pkg/dverr"
	"golang.org/x/crypto/sha3"
)

// Hash is a node's content address: the SHA3-256 digest of its
// canonical encoding.
type Hash [32]byte

// EmptyHash is the content address of the empty trie.
var EmptyHash = Hash{}

// Kind discriminates a node's shape.
type Kind uint8

const (
	KindEmpty Kind = iota
	KindLeaf
	KindExtension
	KindBranch
)

// Node is one MPT node. Exactly one of the shape-specific fields is
// meaningful, selected by Kind.
type Node struct {
	Kind Kind

	// Leaf, Extension
	Path []byte

	// Leaf
	Value []byte

	// Extension
	Child Hash

	// Branch
	Children [16]Hash
	HasValue bool
	BranchValue []byte
}

// Leaf builds a leaf node.
func Leaf(path, value []byte) Node {
	return Node{Kind: KindLeaf, Path: path, Value: value}
}

// Extension builds an extension node pointing at child.
func Extension(path []byte, child Hash) Node {
	return Node{Kind: KindExtension, Path: path, Child: child}
}

// Branch builds a branch node with 16 children and an optional value
// for a key that terminates exactly at this branch.
func Branch(children [16]Hash, value []byte) Node {
	return Node{Kind: KindBranch, Children: children, HasValue: value != nil, BranchValue: value}
}

// Encode produces the node's canonical, content-addressable byte
// encoding: a kind tag followed by length-prefixed fields, matching
// the length-prefixed-string/opaque-byte-array convention the
// bytecode module format uses for its own constant pool, so the same
// encoding style appears on both sides of the repo.
func (n Node) Encode() []byte {
	switch n.Kind {
	case KindEmpty:
		return []byte{byte(KindEmpty)}
	case KindLeaf:
		buf := []byte{byte(KindLeaf)}
		buf = appendLenPrefixed(buf, n.Path)
		buf = appendLenPrefixed(buf, n.Value)
		return buf
	case KindExtension:
		buf := []byte{byte(KindExtension)}
		buf = appendLenPrefixed(buf, n.Path)
		buf = append(buf, n.Child[:]...)
		return buf
	case KindBranch:
		buf := []byte{byte(KindBranch)}
		for _, c := range n.Children {
			buf = append(buf, c[:]...)
		}
		if n.HasValue {
			buf = append(buf, 1)
			buf = appendLenPrefixed(buf, n.BranchValue)
		} else {
			buf = append(buf, 0)
		}
		return buf
	default:
		panic(fmt.Sprintf("state: unknown node kind %d", n.Kind))
	}
}

// HashNode returns the content address of n's canonical encoding.
func HashNode(n Node) Hash {
	if n.Kind == KindEmpty {
		return EmptyHash
	}
	return sha3.Sum256(n.Encode())
}

func appendLenPrefixed(buf, field []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(field)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, field...)
}

// decodeNode reverses Encode. Used by NodeStore implementations that
// persist raw bytes (the page-backed store) rather than structured
// values.
func decodeNode(raw []byte) (Node, error) {
	if len(raw) == 0 {
		return Node{}, dverr.New(dverr.MalformedProof, "state.decodeNode: empty encoding")
	}
	kind := Kind(raw[0])
	body := raw[1:]

	switch kind {
	case KindEmpty:
		return Node{Kind: KindEmpty}, nil
	case KindLeaf:
		path, rest, err := readLenPrefixed(body)
		if err != nil {
			return Node{}, err
		}
		value, _, err := readLenPrefixed(rest)
		if err != nil {
			return Node{}, err
		}
		return Leaf(path, value), nil
	case KindExtension:
		path, rest, err := readLenPrefixed(body)
		if err != nil {
			return Node{}, err
		}
		if len(rest) < 32 {
			return Node{}, dverr.New(dverr.MalformedProof, "state.decodeNode: truncated extension child hash")
		}
		var child Hash
		copy(child[:], rest[:32])
		return Extension(path, child), nil
	case KindBranch:
		if len(body) < 16*32+1 {
			return Node{}, dverr.New(dverr.MalformedProof, "state.decodeNode: truncated branch node")
		}
		var children [16]Hash
		for i := 0; i < 16; i++ {
			copy(children[i][:], body[i*32:(i+1)*32])
		}
		flag := body[16*32]
		if flag == 0 {
			return Branch(children, nil), nil
		}
		value, _, err := readLenPrefixed(body[16*32+1:])
		if err != nil {
			return Node{}, err
		}
		return Branch(children, value), nil
	default:
		return Node{}, dverr.New(dverr.MalformedProof, fmt.Sprintf("state.decodeNode: unknown node kind %d", kind))
	}
}

func readLenPrefixed(buf []byte) (field, rest []byte, err error) {
	if len(buf) < 4 {
		return nil, nil, dverr.New(dverr.MalformedProof, "state.readLenPrefixed: truncated length prefix")
	}
	n := binary.BigEndian.Uint32(buf[0:4])
	if uint32(len(buf)-4) < n {
		return nil, nil, dverr.New(dverr.MalformedProof, fmt.Sprintf("state.readLenPrefixed: truncated field, want %d bytes", n))
	}
	return buf[4 : 4+n], buf[4+n:], nil
}
