// Package interpreter executes the subset of the script language needed to authorise
// pay-to-pubkey and pay-to-pubkey-hash spends.
//
// A script either succeeds, fails (ERR_SCRIPT_INVALID) or aborts (ERR_SCRIPT_FATAL).
// Only an opcode outside the supported set aborts.
package interpreter

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/go-bt/v2/bscript"
	"golang.org/x/crypto/ripemd160" //nolint:gosec // HASH160 is defined in terms of ripemd160
)

// SignatureChecker verifies a signature (with its trailing hash type byte) against a
// public key for the input being executed.
type SignatureChecker interface {
	CheckSignature(sig, pubKey []byte) bool
}

// SignatureCheckerFunc adapts a function to SignatureChecker.
type SignatureCheckerFunc func(sig, pubKey []byte) bool

func (f SignatureCheckerFunc) CheckSignature(sig, pubKey []byte) bool {
	return f(sig, pubKey)
}

// Engine runs the signature script followed by the locking script as one program.
type Engine struct {
	script  []byte
	pc      int
	dstack  stack
	astack  stack
	checker SignatureChecker
}

func NewEngine(sigScript, pkScript []byte, checker SignatureChecker) *Engine {
	script := make([]byte, 0, len(sigScript)+len(pkScript))
	script = append(script, sigScript...)
	script = append(script, pkScript...)

	return &Engine{
		script:  script,
		checker: checker,
	}
}

// Verify is a convenience wrapper around Execute. A failed script returns false and a
// nil error; only a fatal script returns an error.
func Verify(sigScript, pkScript []byte, checker SignatureChecker) (bool, error) {
	err := NewEngine(sigScript, pkScript, checker).Execute()
	if err == nil {
		return true, nil
	}

	if errors.Is(err, errors.ErrScriptFatal) {
		return false, err
	}

	return false, nil
}

// Execute runs the program to completion and checks the final stack.
func (e *Engine) Execute() error {
	for {
		done, err := e.Step()
		if err != nil {
			return err
		}

		if done {
			break
		}
	}

	return e.checkFinalState()
}

// Step executes one opcode. It reports done once the program counter is past the end.
func (e *Engine) Step() (bool, error) {
	if e.pc >= len(e.script) {
		return true, nil
	}

	op := e.script[e.pc]
	e.pc++

	var err error

	switch {
	case op >= bscript.OpDATA1 && op <= bscript.OpDATA75:
		err = e.pushData(int(op))

	case op == bscript.OpPUSHDATA1, op == bscript.OpPUSHDATA2, op == bscript.OpPUSHDATA4:
		err = e.pushDataPrefixed(op)

	case op == bscript.OpNOP:

	case op == bscript.OpDROP:
		if _, ok := e.dstack.Pop(); !ok {
			err = e.failure(op, "stack is empty")
		}

	case op == bscript.OpDUP:
		top, ok := e.dstack.Peek()
		if !ok {
			err = e.failure(op, "stack is empty")
			break
		}

		e.dstack.Push(top)

	case op == bscript.OpEQUAL, op == bscript.OpEQUALVERIFY:
		err = e.opEqual(op)

	case op == bscript.OpSHA256:
		err = e.opHash(op, func(b []byte) []byte {
			h := sha256.Sum256(b)
			return h[:]
		})

	case op == bscript.OpHASH160:
		err = e.opHash(op, hash160)

	case op == bscript.OpCHECKSIG, op == bscript.OpCHECKSIGVERIFY:
		err = e.opCheckSig(op)

	default:
		return true, errors.NewScriptFatalError("unsupported opcode 0x%02x at offset %d", op, e.pc-1)
	}

	if err != nil {
		return true, err
	}

	return e.pc >= len(e.script), nil
}

// Stack returns a copy of the data stack, bottom first.
func (e *Engine) Stack() [][]byte {
	return e.dstack.Items()
}

func (e *Engine) checkFinalState() error {
	if e.astack.Depth() != 0 {
		return errors.NewScriptInvalidError("alt stack holds %d items at the end of the script", e.astack.Depth())
	}

	if e.dstack.Depth() != 1 {
		return errors.NewScriptInvalidError("stack holds %d items at the end of the script, expected 1", e.dstack.Depth())
	}

	top, _ := e.dstack.Peek()
	if !asBool(top) {
		return errors.NewScriptInvalidError("script evaluated to false")
	}

	return nil
}

func (e *Engine) failure(op byte, reason string) error {
	return errors.NewScriptInvalidError("opcode 0x%02x at offset %d: %s", op, e.pc-1, reason)
}

func (e *Engine) pushData(n int) error {
	if len(e.script)-e.pc < n {
		return errors.NewScriptInvalidError("push of %d bytes at offset %d runs past the end of the script", n, e.pc-1)
	}

	e.dstack.Push(e.script[e.pc : e.pc+n : e.pc+n])
	e.pc += n

	return nil
}

func (e *Engine) pushDataPrefixed(op byte) error {
	var width int

	switch op {
	case bscript.OpPUSHDATA1:
		width = 1
	case bscript.OpPUSHDATA2:
		width = 2
	default:
		width = 4
	}

	if len(e.script)-e.pc < width {
		return e.failure(op, "length prefix runs past the end of the script")
	}

	prefix := e.script[e.pc : e.pc+width]
	e.pc += width

	var n uint64

	switch width {
	case 1:
		n = uint64(prefix[0])
	case 2:
		n = uint64(binary.LittleEndian.Uint16(prefix))
	default:
		n = uint64(binary.LittleEndian.Uint32(prefix))
	}

	if uint64(len(e.script)-e.pc) < n {
		return e.failure(op, "data runs past the end of the script")
	}

	return e.pushData(int(n)) //nolint:gosec // bounded by the script length
}

func (e *Engine) opEqual(op byte) error {
	a, okA := e.dstack.Pop()
	b, okB := e.dstack.Pop()

	if !okA || !okB {
		return e.failure(op, "needs two stack items")
	}

	equal := bytes.Equal(a, b)

	if op == bscript.OpEQUALVERIFY {
		if !equal {
			return e.failure(op, "items are not equal")
		}

		return nil
	}

	e.dstack.PushBool(equal)

	return nil
}

func (e *Engine) opHash(op byte, fn func([]byte) []byte) error {
	top, ok := e.dstack.Pop()
	if !ok {
		return e.failure(op, "stack is empty")
	}

	e.dstack.Push(fn(top))

	return nil
}

func (e *Engine) opCheckSig(op byte) error {
	pubKey, okPub := e.dstack.Pop()
	sig, okSig := e.dstack.Pop()

	if !okPub || !okSig {
		return e.failure(op, "needs a signature and a public key")
	}

	valid := e.checker != nil && len(sig) > 0 && e.checker.CheckSignature(sig, pubKey)

	if op == bscript.OpCHECKSIGVERIFY {
		if !valid {
			return e.failure(op, "signature check failed")
		}

		return nil
	}

	e.dstack.PushBool(valid)

	return nil
}

// Hash160 is RIPEMD-160 of SHA-256, as used by pay-to-pubkey-hash scripts.
func Hash160(b []byte) []byte {
	return hash160(b)
}

func hash160(b []byte) []byte {
	h := sha256.Sum256(b)

	r := ripemd160.New() //nolint:gosec // see import
	_, _ = r.Write(h[:])

	return r.Sum(nil)
}
