package validator

import (
	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/services/validator/interpreter"
	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/bscript"
	"github.com/bsv-blockchain/go-bt/v2/sighash"
	bec "github.com/bsv-blockchain/go-sdk/primitives/ec"
)

// PayToPubKeyScript returns <pubKey> OP_CHECKSIG.
func PayToPubKeyScript(pubKey *bec.PublicKey) (*bscript.Script, error) {
	s := &bscript.Script{}

	if err := s.AppendPushData(pubKey.Compressed()); err != nil {
		return nil, errors.NewProcessingError("[PayToPubKeyScript] failed to push public key", err)
	}

	if err := s.AppendOpcodes(bscript.OpCHECKSIG); err != nil {
		return nil, errors.NewProcessingError("[PayToPubKeyScript] failed to append OP_CHECKSIG", err)
	}

	return s, nil
}

// PayToPubKeyHashScript returns OP_DUP OP_HASH160 <hash160(pubKey)> OP_EQUALVERIFY OP_CHECKSIG.
func PayToPubKeyHashScript(pubKey *bec.PublicKey) (*bscript.Script, error) {
	s := &bscript.Script{}

	if err := s.AppendOpcodes(bscript.OpDUP, bscript.OpHASH160); err != nil {
		return nil, errors.NewProcessingError("[PayToPubKeyHashScript] failed to append opcodes", err)
	}

	if err := s.AppendPushData(interpreter.Hash160(pubKey.Compressed())); err != nil {
		return nil, errors.NewProcessingError("[PayToPubKeyHashScript] failed to push public key hash", err)
	}

	if err := s.AppendOpcodes(bscript.OpEQUALVERIFY, bscript.OpCHECKSIG); err != nil {
		return nil, errors.NewProcessingError("[PayToPubKeyHashScript] failed to append opcodes", err)
	}

	return s, nil
}

// Sign returns the DER signature of input inputIndex followed by the SIGHASH_ALL byte.
func Sign(tx *bt.Tx, inputIndex int, prevScript *bscript.Script, privKey *bec.PrivateKey) ([]byte, error) {
	hash, err := TxSignature(tx, inputIndex, prevScript, sighash.All)
	if err != nil {
		return nil, err
	}

	signature, err := privKey.Sign(hash[:])
	if err != nil {
		return nil, errors.NewProcessingError("[Sign] failed to sign tx %s input %d", tx.TxID(), inputIndex, err)
	}

	return append(signature.Serialize(), byte(sighash.All)), nil
}

// SignatureScript returns the <sig> script spending a pay-to-pubkey output.
func SignatureScript(tx *bt.Tx, inputIndex int, prevScript *bscript.Script, privKey *bec.PrivateKey) (*bscript.Script, error) {
	sig, err := Sign(tx, inputIndex, prevScript, privKey)
	if err != nil {
		return nil, err
	}

	s := &bscript.Script{}
	if err = s.AppendPushData(sig); err != nil {
		return nil, errors.NewProcessingError("[SignatureScript] failed to push signature", err)
	}

	return s, nil
}

// SignatureScriptP2PKH returns the <sig> <pubKey> script spending a pay-to-pubkey-hash output.
func SignatureScriptP2PKH(tx *bt.Tx, inputIndex int, prevScript *bscript.Script, privKey *bec.PrivateKey) (*bscript.Script, error) {
	s, err := SignatureScript(tx, inputIndex, prevScript, privKey)
	if err != nil {
		return nil, err
	}

	if err = s.AppendPushData(privKey.PubKey().Compressed()); err != nil {
		return nil, errors.NewProcessingError("[SignatureScriptP2PKH] failed to push public key", err)
	}

	return s, nil
}
