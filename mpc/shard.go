package mpc

import (
	"github.com/fxamacker/cbor/v2"

	apperrors "github.com/twoshard/enclave-signer/errors"
)

// serverShard is the persisted form of the server key share. The keystore
// stores it as opaque bytes; only the engine interprets it.
type serverShard struct {
	Scalar    []byte `cbor:"1,keyasint"`
	PublicKey []byte `cbor:"2,keyasint"`
	Address   string `cbor:"3,keyasint"`
}

func encodeShard(s *serverShard) ([]byte, error) {
	data, err := cbor.Marshal(s)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeMPCInvalidShare, "encoding server shard")
	}
	return data, nil
}

func decodeShard(data []byte) (*serverShard, error) {
	if len(data) == 0 {
		return nil, apperrors.New(apperrors.CodeMPCInvalidShare, "empty server shard")
	}
	var s serverShard
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeMPCInvalidShare, "undecodable server shard")
	}
	if len(s.Scalar) == 0 || len(s.PublicKey) == 0 {
		return nil, apperrors.New(apperrors.CodeMPCInvalidShare, "server shard missing fields")
	}
	return &s, nil
}
