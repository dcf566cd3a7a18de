package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Node{
		Leaf([]byte{1, 2, 3}, []byte("value")),
		Extension([]byte{4, 5}, Hash{1, 2, 3}),
		Branch([16]Hash{}, []byte("branch-value")),
	}

	for _, n := range cases {
		decoded, err := decodeNode(n.Encode())
		require.NoError(t, err)
		assert.Equal(t, n.Kind, decoded.Kind)
		assert.Equal(t, n.Encode(), decoded.Encode())
	}
}

func TestHashNodeIsDeterministic(t *testing.T) {
	n := Leaf([]byte{1, 2}, []byte("v"))
	assert.Equal(t, HashNode(n), HashNode(n))
}

func TestEmptyNodeHashesToEmptyHash(t *testing.T) {
	assert.Equal(t, EmptyHash, HashNode(Node{Kind: KindEmpty}))
}
