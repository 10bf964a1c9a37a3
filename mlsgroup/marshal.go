package mlsgroup

import (
	"bytes"
	"encoding/gob"
)

// MarshalBinary gob-encodes w, including its unexported sealed secret
// envelope, so it can be carried as an MlsEnvelope payload.
func (w *WelcomeMessage) MarshalBinary() ([]byte, error) {
	wire := struct {
		GroupID                 [32]byte
		Epoch                   uint64
		JoinerLeaf              LeafIndex
		Members                 []*LeafNode
		ConfirmedTranscriptHash []byte
		InterimTranscriptHash   []byte
		SealedSecret            *sealedEnvelope
	}{
		GroupID:                 w.GroupID,
		Epoch:                   w.Epoch,
		JoinerLeaf:              w.JoinerLeaf,
		Members:                 w.Members,
		ConfirmedTranscriptHash: w.ConfirmedTranscriptHash,
		InterimTranscriptHash:   w.InterimTranscriptHash,
		SealedSecret:            w.sealedSecret,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&wire); err != nil {
		return nil, errSerializationInvalid("mlsgroup.WelcomeMessage.MarshalBinary", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary reverses MarshalBinary.
func (w *WelcomeMessage) UnmarshalBinary(data []byte) error {
	var wire struct {
		GroupID                 [32]byte
		Epoch                   uint64
		JoinerLeaf              LeafIndex
		Members                 []*LeafNode
		ConfirmedTranscriptHash []byte
		InterimTranscriptHash   []byte
		SealedSecret            *sealedEnvelope
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wire); err != nil {
		return errSerializationInvalid("mlsgroup.WelcomeMessage.UnmarshalBinary", err)
	}
	w.GroupID = wire.GroupID
	w.Epoch = wire.Epoch
	w.JoinerLeaf = wire.JoinerLeaf
	w.Members = wire.Members
	w.ConfirmedTranscriptHash = wire.ConfirmedTranscriptHash
	w.InterimTranscriptHash = wire.InterimTranscriptHash
	w.sealedSecret = wire.SealedSecret
	return nil
}

// MarshalBinary gob-encodes c. Every field of CommitMessage is exported,
// including the per-member sealedEnvelope values inside
// EncryptedPathSecrets, so a plain gob round-trip is sufficient.
func (c *CommitMessage) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(c); err != nil {
		return nil, errSerializationInvalid("mlsgroup.CommitMessage.MarshalBinary", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary reverses MarshalBinary.
func (c *CommitMessage) UnmarshalBinary(data []byte) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(c); err != nil {
		return errSerializationInvalid("mlsgroup.CommitMessage.UnmarshalBinary", err)
	}
	return nil
}

// MarshalBinary gob-encodes p.
func (p *Proposal) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		return nil, errSerializationInvalid("mlsgroup.Proposal.MarshalBinary", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary reverses MarshalBinary.
func (p *Proposal) UnmarshalBinary(data []byte) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(p); err != nil {
		return errSerializationInvalid("mlsgroup.Proposal.UnmarshalBinary", err)
	}
	return nil
}

// MarshalBinary gob-encodes m.
func (m *SealedMessage) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, errSerializationInvalid("mlsgroup.SealedMessage.MarshalBinary", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary reverses MarshalBinary.
func (m *SealedMessage) UnmarshalBinary(data []byte) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(m); err != nil {
		return errSerializationInvalid("mlsgroup.SealedMessage.UnmarshalBinary", err)
	}
	return nil
}
