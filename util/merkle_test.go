package util

import (
	"testing"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/stretchr/testify/assert"
)

func pairHash(a, b chainhash.Hash) chainhash.Hash {
	return chainhash.DoubleHashH(append(a.CloneBytes(), b.CloneBytes()...))
}

func TestBuildMerkleRoot(t *testing.T) {
	h1 := chainhash.HashH([]byte("tx1"))
	h2 := chainhash.HashH([]byte("tx2"))
	h3 := chainhash.HashH([]byte("tx3"))

	t.Run("empty", func(t *testing.T) {
		assert.Equal(t, chainhash.Hash{}, BuildMerkleRoot(nil))
	})

	t.Run("single transaction is its own root", func(t *testing.T) {
		assert.Equal(t, h1, BuildMerkleRoot([]chainhash.Hash{h1}))
	})

	t.Run("two transactions", func(t *testing.T) {
		assert.Equal(t, pairHash(h1, h2), BuildMerkleRoot([]chainhash.Hash{h1, h2}))
	})

	t.Run("odd count duplicates the last node", func(t *testing.T) {
		expected := pairHash(pairHash(h1, h2), pairHash(h3, h3))
		assert.Equal(t, expected, BuildMerkleRoot([]chainhash.Hash{h1, h2, h3}))
	})

	t.Run("input is not modified", func(t *testing.T) {
		hashes := []chainhash.Hash{h1, h2, h3}
		_ = BuildMerkleRoot(hashes)
		assert.Equal(t, []chainhash.Hash{h1, h2, h3}, hashes)
	})
}
