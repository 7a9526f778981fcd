package interpreter

import (
	"encoding/hex"
	"testing"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/go-bt/v2/bscript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSig    = []byte{0x30, 0x01, 0x02, 0x41}
	testPubKey = []byte{0x02, 0xaa, 0xbb, 0xcc}
)

// acceptKey accepts testSig for testPubKey only.
var acceptKey = SignatureCheckerFunc(func(sig, pubKey []byte) bool {
	return string(sig) == string(testSig) && string(pubKey) == string(testPubKey)
})

func push(b []byte) []byte {
	return append([]byte{byte(len(b))}, b...)
}

func script(parts ...[]byte) []byte {
	var s []byte
	for _, p := range parts {
		s = append(s, p...)
	}

	return s
}

func op(b ...byte) []byte {
	return b
}

func TestExecute(t *testing.T) {
	tests := []struct {
		name      string
		sigScript []byte
		pkScript  []byte
		valid     bool
		fatal     bool
	}{
		{name: "single truthy push", pkScript: push([]byte{1}), valid: true},
		{name: "empty script", valid: false},
		{name: "two items left", sigScript: push([]byte{1}), pkScript: push([]byte{1}), valid: false},
		{name: "equal", sigScript: push([]byte("abc")), pkScript: script(push([]byte("abc")), op(bscript.OpEQUAL)), valid: true},
		{name: "not equal", sigScript: push([]byte("abc")), pkScript: script(push([]byte("abd")), op(bscript.OpEQUAL)), valid: false},
		{name: "equal with one item", pkScript: script(push([]byte{1}), op(bscript.OpEQUAL)), valid: false},
		{name: "equalverify consumes result", sigScript: script(push([]byte{7}), push([]byte{9}), push([]byte{9})), pkScript: op(bscript.OpEQUALVERIFY), valid: true},
		{name: "equalverify fails", sigScript: script(push([]byte{7}), push([]byte{9}), push([]byte{8})), pkScript: op(bscript.OpEQUALVERIFY), valid: false},
		{name: "nop", pkScript: script(op(bscript.OpNOP), push([]byte{1}), op(bscript.OpNOP)), valid: true},
		{name: "dup then equal", pkScript: script(push([]byte{5}), op(bscript.OpDUP, bscript.OpEQUAL)), valid: true},
		{name: "dup on empty stack", pkScript: op(bscript.OpDUP), valid: false},
		{name: "drop", pkScript: script(push([]byte{1}), push([]byte{2}), op(bscript.OpDROP)), valid: true},
		{name: "drop on empty stack", pkScript: op(bscript.OpDROP), valid: false},
		{name: "zero is false", pkScript: push([]byte{0, 0, 0}), valid: false},
		{name: "negative zero is false", pkScript: push([]byte{0, 0, 0x80}), valid: false},
		{name: "0x80 not last is true", pkScript: push([]byte{0x80, 0}), valid: true},
		{name: "push runs past end", pkScript: []byte{0x05, 0x01, 0x02}, valid: false},
		{name: "pushdata1", pkScript: []byte{bscript.OpPUSHDATA1, 0x02, 0x01, 0x01}, valid: true},
		{name: "pushdata2", pkScript: []byte{bscript.OpPUSHDATA2, 0x01, 0x00, 0x01}, valid: true},
		{name: "pushdata4", pkScript: []byte{bscript.OpPUSHDATA4, 0x01, 0x00, 0x00, 0x00, 0x01}, valid: true},
		{name: "pushdata1 prefix truncated", pkScript: []byte{bscript.OpPUSHDATA1}, valid: false},
		{name: "pushdata2 prefix truncated", pkScript: []byte{bscript.OpPUSHDATA2, 0x01}, valid: false},
		{name: "pushdata4 data truncated", pkScript: []byte{bscript.OpPUSHDATA4, 0x05, 0x00, 0x00, 0x00, 0x01}, valid: false},
		{name: "unsupported opcode", pkScript: script(push([]byte{1}), op(bscript.OpADD)), fatal: true},
		{name: "op_0 is unsupported", pkScript: op(bscript.OpFALSE), fatal: true},
		{name: "fatal after failing opcode is not reached", pkScript: op(bscript.OpDROP, bscript.OpADD), valid: false},
		{name: "checksig", sigScript: push(testSig), pkScript: script(push(testPubKey), op(bscript.OpCHECKSIG)), valid: true},
		{name: "checksig wrong key", sigScript: push(testSig), pkScript: script(push([]byte{0x03, 0x01}), op(bscript.OpCHECKSIG)), valid: false},
		{name: "checksig missing items", pkScript: script(push(testPubKey), op(bscript.OpCHECKSIG)), valid: false},
		{name: "checksigverify", sigScript: script(push([]byte{1}), push(testSig)), pkScript: script(push(testPubKey), op(bscript.OpCHECKSIGVERIFY)), valid: true},
		{name: "checksigverify fails", sigScript: script(push([]byte{1}), push([]byte{0x30})), pkScript: script(push(testPubKey), op(bscript.OpCHECKSIGVERIFY)), valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewEngine(tt.sigScript, tt.pkScript, acceptKey).Execute()

			switch {
			case tt.fatal:
				require.Error(t, err)
				assert.True(t, errors.Is(err, errors.ErrScriptFatal))
			case tt.valid:
				require.NoError(t, err)
			default:
				require.Error(t, err)
				assert.True(t, errors.Is(err, errors.ErrScriptInvalid))
				assert.False(t, errors.Is(err, errors.ErrScriptFatal))
			}
		})
	}
}

func TestVerify(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		ok, err := Verify(nil, push([]byte{1}), nil)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("failure is false without error", func(t *testing.T) {
		ok, err := Verify(nil, push([]byte{0}), nil)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("fatal is an error", func(t *testing.T) {
		ok, err := Verify(nil, op(bscript.OpRETURN), nil)
		require.Error(t, err)
		assert.False(t, ok)
	})

	t.Run("checksig without a checker is false", func(t *testing.T) {
		ok, err := Verify(push(testSig), script(push(testPubKey), op(bscript.OpCHECKSIG)), nil)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestHashOpcodes(t *testing.T) {
	t.Run("sha256 of empty", func(t *testing.T) {
		e := NewEngine(nil, script(op(bscript.OpPUSHDATA1, 0x00), op(bscript.OpSHA256)), nil)
		require.NoError(t, e.Execute())

		stack := e.Stack()
		require.Len(t, stack, 1)
		assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", hex.EncodeToString(stack[0]))
	})

	t.Run("hash160 of empty", func(t *testing.T) {
		e := NewEngine(nil, script(op(bscript.OpPUSHDATA1, 0x00), op(bscript.OpHASH160)), nil)
		require.NoError(t, e.Execute())

		stack := e.Stack()
		require.Len(t, stack, 1)
		assert.Equal(t, "b472a266d0bd89c13706a4132ccfb16f7c3b9fcb", hex.EncodeToString(stack[0]))
		assert.Equal(t, stack[0], Hash160(nil))
	})

	t.Run("hash on empty stack", func(t *testing.T) {
		err := NewEngine(nil, op(bscript.OpHASH160), nil).Execute()
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrScriptInvalid))
	})
}

func TestPayToPubKeyHash(t *testing.T) {
	pkScript := script(
		op(bscript.OpDUP, bscript.OpHASH160),
		push(Hash160(testPubKey)),
		op(bscript.OpEQUALVERIFY, bscript.OpCHECKSIG),
	)

	ok, err := Verify(script(push(testSig), push(testPubKey)), pkScript, acceptKey)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify(script(push(testSig), push([]byte{0x02, 0x00})), pkScript, acceptKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAsBool(t *testing.T) {
	assert.False(t, asBool(nil))
	assert.False(t, asBool([]byte{0}))
	assert.False(t, asBool([]byte{0x80}))
	assert.False(t, asBool([]byte{0, 0x80}))
	assert.True(t, asBool([]byte{1}))
	assert.True(t, asBool([]byte{0x80, 0x80}))
	assert.True(t, asBool([]byte{0, 0x81}))
}
