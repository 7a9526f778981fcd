package validator

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/bscript"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/go-bt/v2/sighash"
	bec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func testKey(t *testing.T, seed byte) *bec.PrivateKey {
	t.Helper()

	privateKey, _ := bec.PrivateKeyFromBytes(bytes.Repeat([]byte{seed}, 32))
	require.NotNil(t, privateKey)

	return privateKey
}

// fundingTx returns a coinbase-like transaction paying 50 BSV to lockingScript.
func fundingTx(t *testing.T, lockingScript *bscript.Script) *bt.Tx {
	t.Helper()

	tx := bt.NewTx()

	input := &bt.Input{
		PreviousTxOutIndex: 0xffffffff,
		SequenceNumber:     0xffffffff,
		UnlockingScript:    bscript.NewFromBytes([]byte{0x03, 0x01, 0x02, 0x03}),
	}
	require.NoError(t, input.PreviousTxIDAdd(&chainhash.Hash{}))

	tx.Inputs = append(tx.Inputs, input)
	tx.AddOutput(&bt.Output{Satoshis: 50e8, LockingScript: lockingScript})

	return tx
}

// spendingTx spends output 0 of every parent, unsigned.
func spendingTx(t *testing.T, parents ...*bt.Tx) *bt.Tx {
	t.Helper()

	tx := bt.NewTx()

	for _, parent := range parents {
		input := &bt.Input{
			PreviousTxOutIndex: 0,
			SequenceNumber:     0xffffffff,
			UnlockingScript:    &bscript.Script{},
		}
		require.NoError(t, input.PreviousTxIDAdd(parent.TxIDChainHash()))

		tx.Inputs = append(tx.Inputs, input)
	}

	tx.AddOutput(&bt.Output{Satoshis: 1000, LockingScript: bscript.NewFromBytes([]byte{bscript.OpTRUE})})

	return tx
}

func TestPayToPubKeySelfConsistency(t *testing.T) {
	privateKey := testKey(t, 0x11)

	lockingScript, err := PayToPubKeyScript(privateKey.PubKey())
	require.NoError(t, err)

	parent := fundingTx(t, lockingScript)
	tx := spendingTx(t, parent)

	tx.Inputs[0].UnlockingScript, err = SignatureScript(tx, 0, lockingScript, privateKey)
	require.NoError(t, err)

	require.NoError(t, NewScriptVerifier(false).VerifyScript(tx, 0, parent.Outputs[0]))
}

func TestPayToPubKeyHashSelfConsistency(t *testing.T) {
	privateKey := testKey(t, 0x22)

	lockingScript, err := PayToPubKeyHashScript(privateKey.PubKey())
	require.NoError(t, err)

	parent := fundingTx(t, lockingScript)
	tx := spendingTx(t, parent)

	tx.Inputs[0].UnlockingScript, err = SignatureScriptP2PKH(tx, 0, lockingScript, privateKey)
	require.NoError(t, err)

	require.NoError(t, NewScriptVerifier(false).VerifyScript(tx, 0, parent.Outputs[0]))
}

func TestVerifyScript_Failures(t *testing.T) {
	owner := testKey(t, 0x33)
	other := testKey(t, 0x44)

	lockingScript, err := PayToPubKeyScript(owner.PubKey())
	require.NoError(t, err)

	parent := fundingTx(t, lockingScript)

	t.Run("signed with the wrong key", func(t *testing.T) {
		tx := spendingTx(t, parent)

		tx.Inputs[0].UnlockingScript, err = SignatureScript(tx, 0, lockingScript, other)
		require.NoError(t, err)

		err := NewScriptVerifier(false).VerifyScript(tx, 0, parent.Outputs[0])
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrScriptInvalid))
	})

	t.Run("output changed after signing", func(t *testing.T) {
		tx := spendingTx(t, parent)

		tx.Inputs[0].UnlockingScript, err = SignatureScript(tx, 0, lockingScript, owner)
		require.NoError(t, err)

		tx.Outputs[0].Satoshis++

		err := NewScriptVerifier(false).VerifyScript(tx, 0, parent.Outputs[0])
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrScriptInvalid))
	})

	t.Run("unsupported opcode is fatal", func(t *testing.T) {
		fatalParent := fundingTx(t, bscript.NewFromBytes([]byte{bscript.OpRETURN}))
		tx := spendingTx(t, fatalParent)

		err := NewScriptVerifier(false).VerifyScript(tx, 0, fatalParent.Outputs[0])
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrScriptFatal))
	})

	t.Run("missing previous output", func(t *testing.T) {
		tx := spendingTx(t, parent)

		err := NewScriptVerifier(false).VerifyScript(tx, 0, nil)
		require.Error(t, err)
	})

	t.Run("input out of range", func(t *testing.T) {
		tx := spendingTx(t, parent)

		err := NewScriptVerifier(false).VerifyScript(tx, 3, parent.Outputs[0])
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
	})

	t.Run("ignore signatures", func(t *testing.T) {
		tx := spendingTx(t, parent)

		verifier := NewScriptVerifier(true)
		assert.True(t, verifier.IgnoreSignatures())
		require.NoError(t, verifier.VerifyScript(tx, 0, parent.Outputs[0]))
	})
}

func TestVerifySignature(t *testing.T) {
	privateKey := testKey(t, 0x55)

	lockingScript, err := PayToPubKeyScript(privateKey.PubKey())
	require.NoError(t, err)

	parent := fundingTx(t, lockingScript)
	tx := spendingTx(t, parent)

	sig, err := Sign(tx, 0, lockingScript, privateKey)
	require.NoError(t, err)
	assert.Equal(t, byte(sighash.All), sig[len(sig)-1])

	pubKey := privateKey.PubKey().Compressed()

	assert.True(t, VerifySignature(tx, 0, lockingScript, pubKey, sig))

	t.Run("other hash types are rejected", func(t *testing.T) {
		for _, hashType := range []sighash.Flag{sighash.None, sighash.Single, sighash.AllForkID, sighash.All | sighash.AnyOneCanPay} {
			modified := append(append([]byte{}, sig[:len(sig)-1]...), byte(hashType))
			assert.False(t, VerifySignature(tx, 0, lockingScript, pubKey, modified), "hash type %x", hashType)
		}
	})

	t.Run("malformed inputs", func(t *testing.T) {
		assert.False(t, VerifySignature(tx, 0, lockingScript, pubKey, nil))
		assert.False(t, VerifySignature(tx, 0, lockingScript, pubKey, []byte{0x30, 0x01}))
		assert.False(t, VerifySignature(tx, 0, lockingScript, []byte{0x02, 0x01}, sig))
		assert.False(t, VerifySignature(tx, 5, lockingScript, pubKey, sig))
	})
}

func TestTxSignature(t *testing.T) {
	lockingScript := bscript.NewFromBytes([]byte{bscript.OpTRUE})

	tx := spendingTx(t, fundingTx(t, lockingScript), fundingTx(t, bscript.NewFromBytes([]byte{bscript.OpNOP, bscript.OpTRUE})))

	hash0, err := TxSignature(tx, 0, lockingScript, sighash.All)
	require.NoError(t, err)

	t.Run("deterministic", func(t *testing.T) {
		again, err := TxSignature(tx, 0, lockingScript, sighash.All)
		require.NoError(t, err)
		assert.Equal(t, hash0, again)
	})

	t.Run("signature scripts are blanked", func(t *testing.T) {
		tx.Inputs[0].UnlockingScript = bscript.NewFromBytes([]byte{0x01, 0x07})
		tx.Inputs[1].UnlockingScript = bscript.NewFromBytes([]byte{0x01, 0x08})

		defer func() {
			tx.Inputs[0].UnlockingScript = &bscript.Script{}
			tx.Inputs[1].UnlockingScript = &bscript.Script{}
		}()

		again, err := TxSignature(tx, 0, lockingScript, sighash.All)
		require.NoError(t, err)
		assert.Equal(t, hash0, again)

		// the original transaction is untouched
		assert.Equal(t, []byte{0x01, 0x07}, []byte(*tx.Inputs[0].UnlockingScript))
	})

	t.Run("commits to the input index", func(t *testing.T) {
		hash1, err := TxSignature(tx, 1, lockingScript, sighash.All)
		require.NoError(t, err)
		assert.NotEqual(t, hash0, hash1)
	})

	t.Run("commits to the previous script", func(t *testing.T) {
		other, err := TxSignature(tx, 0, bscript.NewFromBytes([]byte{bscript.OpNOP}), sighash.All)
		require.NoError(t, err)
		assert.NotEqual(t, hash0, other)
	})

	t.Run("commits to the hash type", func(t *testing.T) {
		other, err := TxSignature(tx, 0, lockingScript, sighash.AllForkID)
		require.NoError(t, err)
		assert.NotEqual(t, hash0, other)
	})

	t.Run("input out of range", func(t *testing.T) {
		_, err := TxSignature(tx, 2, lockingScript, sighash.All)
		require.Error(t, err)
	})
}

// Block 170 holds the first spend of a coinbase, paying 10 BTC from block 9 to Hal Finney.
const (
	block170Tx   = "0100000001c997a5e56e104102fa209c6a852dd90660a20b2d9c352423edce25857fcd3704000000004847304402204e45e16932b8af514961a1d3a1a25fdf3f4f7732e9d624c6c61548ab5fb8cd410220181522ec8eca07de4860a4acdd12909d831cc56cbbac4622082221a8768d1d0901ffffffff0200ca9a3b00000000434104ae1a62fe09c5f51b13905f07f06b99a2f7159b2225f374cd378d71302fa28414e7aab37397f554a7df5f142c21c1b7303b8a0626f1baded5c72a704f7e6cd84cac00286bee0000000043410411db93e1dcdb8a016b49840f8c53bc1eb68a382e97b1482ecad7b148a6909a5cb2e0eaddfb84ccf9744464f82e160bfa9b8b64f9d4c03f999b8643f656b412a3ac00000000"
	block9Script = "410411db93e1dcdb8a016b49840f8c53bc1eb68a382e97b1482ecad7b148a6909a5cb2e0eaddfb84ccf9744464f82e160bfa9b8b64f9d4c03f999b8643f656b412a3ac"
)

func TestTxSignature_Block170(t *testing.T) {
	tx, err := bt.NewTxFromString(block170Tx)
	require.NoError(t, err)
	require.Equal(t, "f4184fc596403b9d638783cf57adfe4c75c605f6356fbc91338530e9831e9e16", tx.TxID())
	require.Equal(t, "0437cd7f8525ceed2324359c2d0ba26006d92d856a9c20fa0241106ee5a597c9", tx.Inputs[0].PreviousTxIDStr())

	prevScript, err := bscript.NewFromHexString(block9Script)
	require.NoError(t, err)

	hash, err := TxSignature(tx, 0, prevScript, sighash.All)
	require.NoError(t, err)
	assert.Equal(t, "7a05c6145f10101e9d6325494245adf1297d80f8f38d4d576d57cdba220bcb19", hex.EncodeToString(hash[:]))

	// the signature script is a single push of the signature
	sig := []byte(*tx.Inputs[0].UnlockingScript)[1:]
	pubKey := []byte(*prevScript)[1:66]

	assert.True(t, VerifySignature(tx, 0, prevScript, pubKey, sig))

	prevOutput := &bt.Output{Satoshis: 5_000_000_000, LockingScript: prevScript}
	require.NoError(t, NewScriptVerifier(false).VerifyScript(tx, 0, prevOutput))

	t.Run("tampered output", func(t *testing.T) {
		tampered := tx.Clone()
		tampered.Outputs[0].Satoshis--

		assert.False(t, VerifySignature(tampered, 0, prevScript, pubKey, sig))
	})
}

func TestScriptVerification_MultiRoutine(t *testing.T) {
	verifier := NewScriptVerifier(false)

	type spend struct {
		tx     *bt.Tx
		output *bt.Output
	}

	spends := make([]spend, 0, 16)

	for i := 0; i < 16; i++ {
		privateKey := testKey(t, byte(i+1))

		lockingScript, err := PayToPubKeyHashScript(privateKey.PubKey())
		require.NoError(t, err)

		parent := fundingTx(t, lockingScript)
		tx := spendingTx(t, parent)

		tx.Inputs[0].UnlockingScript, err = SignatureScriptP2PKH(tx, 0, lockingScript, privateKey)
		require.NoError(t, err)

		spends = append(spends, spend{tx: tx, output: parent.Outputs[0]})
	}

	g := errgroup.Group{}

	for _, s := range spends {
		g.Go(func() error {
			return verifier.VerifyScript(s.tx, 0, s.output)
		})
	}

	require.NoError(t, g.Wait())
}
