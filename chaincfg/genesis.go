// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import (
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
)

// genesisCoinbaseTx is the coinbase transaction for the genesis blocks for
// the main network and the regression test network.
var genesisCoinbaseTx = mustParseTx("01000000010000000000000000000000000000000000000000000000000000000000000000ffffffff4d04ffff001d0104455468652054696d65732030332f4a616e2f32303039204368616e63656c6c6f72206f6e206272696e6b206f66207365636f6e64206261696c6f757420666f722062616e6b73ffffffff0100f2052a01000000434104678afdb0fe5548271967f1a67130b7105cd6a828e03909a67962e0ea1f61deb649f6bc3f4cef38c4f35504e51ec112de5c384df7ba0b8d578a4c702b6bf11d5fac00000000")

// genesisMerkleRoot is the hash of the first transaction in the genesis block
// for the main network.
var genesisMerkleRoot = newHashFromStr("4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b")

// genesisBlock defines the genesis block of the block chain which serves as the
// public transaction ledger for the main network.
var genesisBlock = *model.NewBlock(&model.BlockHeader{
	Version:        1,
	HashPrevBlock:  &chainhash.Hash{},
	HashMerkleRoot: genesisMerkleRoot,
	Timestamp:      1231006505, // 2009-01-03 18:15:05 +0000 UTC
	Bits:           model.NewNBitFromUint32(0x1d00ffff),
	Nonce:          0x7c2bac1d, // 2083236893
}, []*bt.Tx{genesisCoinbaseTx})

// genesisHash is the hash of the first block in the block chain for the main
// network (genesis block).
var genesisHash = *newHashFromStr("000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f")

// regTestGenesisBlock defines the genesis block of the block chain which serves
// as the public transaction ledger for the regression test network.
var regTestGenesisBlock = *model.NewBlock(&model.BlockHeader{
	Version:        1,
	HashPrevBlock:  &chainhash.Hash{},
	HashMerkleRoot: genesisMerkleRoot,
	Timestamp:      1296688602, // 2011-02-02 23:16:42 +0000 UTC
	Bits:           model.NewNBitFromUint32(0x207fffff),
	Nonce:          2,
}, []*bt.Tx{genesisCoinbaseTx})

// regTestGenesisHash is the hash of the first block in the block chain for the
// regression test network (genesis block).
var regTestGenesisHash = *newHashFromStr("0f9188f13cb7b2c71f2a335e3a4fc328bf5beb436012afca590b1a11466e2206")

// newHashFromStr converts the passed big-endian hex string into a
// chainhash.Hash. It panics on an error since it will only be called with
// hard-coded hashes.
func newHashFromStr(hexStr string) *chainhash.Hash {
	hash, err := chainhash.NewHashFromStr(hexStr)
	if err != nil {
		panic(err)
	}

	return hash
}

func mustParseTx(txHex string) *bt.Tx {
	tx, err := bt.NewTxFromString(txHex)
	if err != nil {
		panic(err)
	}

	return tx
}
