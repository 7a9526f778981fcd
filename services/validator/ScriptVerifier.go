package validator

import (
	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/services/validator/interpreter"
	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/bscript"
	"github.com/bsv-blockchain/go-bt/v2/sighash"
	bec "github.com/bsv-blockchain/go-sdk/primitives/ec"
)

// Verifier checks that input inputIndex of tx may spend prevOutput.
type Verifier interface {
	VerifyScript(tx *bt.Tx, inputIndex int, prevOutput *bt.Output) error
}

// VerifySignature checks a DER signature with a trailing hash type byte against pubKey
// for input inputIndex of tx, which spends an output locked by prevScript.
func VerifySignature(tx *bt.Tx, inputIndex int, prevScript *bscript.Script, pubKey, sig []byte) bool {
	if len(sig) < 2 {
		return false
	}

	hashType := sighash.Flag(sig[len(sig)-1])
	if hashType != sighash.All {
		return false
	}

	signature, err := bec.ParseDERSignature(sig[:len(sig)-1])
	if err != nil {
		return false
	}

	publicKey, err := bec.ParsePubKey(pubKey)
	if err != nil {
		return false
	}

	hash, err := TxSignature(tx, inputIndex, prevScript, hashType)
	if err != nil {
		return false
	}

	return signature.Verify(hash[:], publicKey)
}

// ScriptVerifier runs the signature script of an input against the locking script of the
// output it spends.
type ScriptVerifier struct {
	ignoreSignatures bool
}

// NewScriptVerifier returns a verifier. With ignoreSignatures every script is accepted
// without being run, which is only sound when replaying a chain already known to be valid.
func NewScriptVerifier(ignoreSignatures bool) *ScriptVerifier {
	return &ScriptVerifier{
		ignoreSignatures: ignoreSignatures,
	}
}

func (v *ScriptVerifier) IgnoreSignatures() bool {
	return v.ignoreSignatures
}

// VerifyScript returns nil when the input is authorised, ERR_SCRIPT_INVALID when the script
// evaluates to false and ERR_SCRIPT_FATAL when it can not be evaluated at all.
func (v *ScriptVerifier) VerifyScript(tx *bt.Tx, inputIndex int, prevOutput *bt.Output) error {
	if v.ignoreSignatures {
		return nil
	}

	if inputIndex < 0 || inputIndex >= len(tx.Inputs) {
		return errors.NewInvalidArgumentError("[VerifyScript] input %d out of range, tx %s has %d inputs", inputIndex, tx.TxID(), len(tx.Inputs))
	}

	if prevOutput == nil || prevOutput.LockingScript == nil {
		return errors.NewScriptInvalidError("[VerifyScript] tx %s input %d has no previous output script", tx.TxID(), inputIndex)
	}

	var sigScript []byte
	if us := tx.Inputs[inputIndex].UnlockingScript; us != nil {
		sigScript = *us
	}

	checker := interpreter.SignatureCheckerFunc(func(sig, pubKey []byte) bool {
		return VerifySignature(tx, inputIndex, prevOutput.LockingScript, pubKey, sig)
	})

	if err := interpreter.NewEngine(sigScript, *prevOutput.LockingScript, checker).Execute(); err != nil {
		if errors.Is(err, errors.ErrScriptFatal) {
			return errors.NewScriptFatalError("[VerifyScript] tx %s input %d", tx.TxID(), inputIndex, err)
		}

		return errors.NewScriptInvalidError("[VerifyScript] tx %s input %d", tx.TxID(), inputIndex, err)
	}

	return nil
}
