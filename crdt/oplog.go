package crdt

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
)

// Op is one replicated mutation: the serialized payload of a CRDT
// operation, the device that authored it, the causal clock it was issued
// under, and a signature over (payload || vc) under the author's device
// key.
type Op struct {
	Payload        []byte
	AuthorDeviceID [16]byte
	Clock          *VectorClock
	Signature      [64]byte
}

// signingMessage is the exact byte sequence a signature covers: the op
// payload followed by a deterministic encoding of its clock, so two ops
// with identical payloads but different causal context sign differently.
func signingMessage(payload []byte, vc *VectorClock) []byte {
	snap := vc.Snapshot()
	msg := append([]byte(nil), payload...)
	for _, node := range sortedKeys(snap) {
		msg = binary.BigEndian.AppendUint32(msg, uint32(len(node)))
		msg = append(msg, []byte(node)...)
		msg = binary.BigEndian.AppendUint64(msg, snap[node])
	}
	return msg
}

func sortedKeys(m map[string]uint64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	// Small maps (node counts are bounded by group size); simple insertion
	// sort keeps this dependency-free and deterministic.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// SignOp builds a signed Op from a payload, the author's device id, the
// issuing clock, and the author's Ed25519 private key.
func SignOp(payload []byte, authorDeviceID [16]byte, vc *VectorClock, priv ed25519.PrivateKey) Op {
	sig := ed25519.Sign(priv, signingMessage(payload, vc))
	var sigArr [64]byte
	copy(sigArr[:], sig)
	return Op{Payload: payload, AuthorDeviceID: authorDeviceID, Clock: vc.Clone(), Signature: sigArr}
}

// VerifyOp reports whether op's signature validates under the author's
// known device public key.
func VerifyOp(op Op, authorPub ed25519.PublicKey) bool {
	return ed25519.Verify(authorPub, signingMessage(op.Payload, op.Clock), op.Signature[:])
}

// OpLog is an append-only ordered list of signed operations.
type OpLog struct {
	ops []Op
}

// NewOpLog returns an empty operation log.
func NewOpLog() *OpLog { return &OpLog{} }

// Append adds op to the log after verifying its signature under authorPub.
// Verification failure rejects the operation without mutating the log:
// the signature must validate under the author's known device public key.
func (l *OpLog) Append(op Op, authorPub ed25519.PublicKey) error {
	if !VerifyOp(op, authorPub) {
		return fmt.Errorf("oplog: signature invalid for device %x", op.AuthorDeviceID)
	}
	l.ops = append(l.ops, op)
	return nil
}

// Ops returns the ordered log contents.
func (l *OpLog) Ops() []Op {
	out := make([]Op, len(l.ops))
	copy(out, l.ops)
	return out
}

// Len reports the number of entries currently in the log.
func (l *OpLog) Len() int { return len(l.ops) }
