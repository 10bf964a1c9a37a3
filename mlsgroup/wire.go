package mlsgroup

import (
	"encoding/binary"
	"fmt"

	"github.com/spacepanda/core/identity"
)

// MsgType enumerates MlsEnvelope payload kinds.
type MsgType uint8

const (
	MsgCommit MsgType = iota + 1
	MsgWelcome
	MsgProposal
	MsgApplication
)

const wireVersion uint8 = 1

// MlsEnvelope is the wire-level wrapper around every message exchanged
// between group members: `{version:u8=1, group_id:32B, epoch:u64 LE,
// msg_type:u8, payload_len:u32 LE, payload, signature:64B}`. Unknown
// version is rejected by DecodeMlsEnvelope.
type MlsEnvelope struct {
	Version   uint8
	GroupID   identity.GroupId
	Epoch     uint64
	MsgType   MsgType
	Payload   []byte
	Signature [64]byte
}

// EncodeMlsEnvelope serializes env deterministically.
func EncodeMlsEnvelope(env *MlsEnvelope) []byte {
	buf := make([]byte, 1+32+8+1+4+len(env.Payload)+64)
	off := 0
	buf[off] = wireVersion
	off++
	copy(buf[off:], env.GroupID[:])
	off += 32
	binary.LittleEndian.PutUint64(buf[off:], env.Epoch)
	off += 8
	buf[off] = byte(env.MsgType)
	off++
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(env.Payload)))
	off += 4
	copy(buf[off:], env.Payload)
	off += len(env.Payload)
	copy(buf[off:], env.Signature[:])
	return buf
}

// DecodeMlsEnvelope parses an MlsEnvelope, rejecting unknown versions and
// malformed length fields without panicking on truncated or adversarial
// input.
func DecodeMlsEnvelope(data []byte) (*MlsEnvelope, error) {
	const headerLen = 1 + 32 + 8 + 1 + 4
	if len(data) < headerLen {
		return nil, errSerializationInvalid("mlsgroup.DecodeMlsEnvelope", fmt.Errorf("truncated header"))
	}
	off := 0
	version := data[off]
	off++
	if version != wireVersion {
		return nil, errSerializationInvalid("mlsgroup.DecodeMlsEnvelope", fmt.Errorf("unknown version %d", version))
	}
	var env MlsEnvelope
	env.Version = version
	copy(env.GroupID[:], data[off:off+32])
	off += 32
	env.Epoch = binary.LittleEndian.Uint64(data[off : off+8])
	off += 8
	env.MsgType = MsgType(data[off])
	off++
	payloadLen := binary.LittleEndian.Uint32(data[off : off+4])
	off += 4
	if uint64(off)+uint64(payloadLen)+64 != uint64(len(data)) {
		return nil, errSerializationInvalid("mlsgroup.DecodeMlsEnvelope", fmt.Errorf("payload length out of bounds"))
	}
	env.Payload = append([]byte(nil), data[off:off+int(payloadLen)]...)
	off += int(payloadLen)
	copy(env.Signature[:], data[off:off+64])
	return &env, nil
}

// SigningBytes returns the portion of the envelope covered by Signature:
// everything but the signature itself.
func (env *MlsEnvelope) SigningBytes() []byte {
	buf := make([]byte, 0, 1+32+8+1+len(env.Payload))
	buf = append(buf, env.Version)
	buf = append(buf, env.GroupID[:]...)
	var epochBuf [8]byte
	binary.LittleEndian.PutUint64(epochBuf[:], env.Epoch)
	buf = append(buf, epochBuf[:]...)
	buf = append(buf, byte(env.MsgType))
	buf = append(buf, env.Payload...)
	return buf
}

// SenderData is the plaintext hidden behind sealed-sender encryption: the
// real sender leaf and ratchet generation.
type SenderData struct {
	SenderLeaf LeafIndex
	Generation uint32
}

// EncodeSenderData serializes d as `{sender_leaf:u32 LE, generation:u32 LE}`.
func EncodeSenderData(d *SenderData) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(d.SenderLeaf))
	binary.LittleEndian.PutUint32(buf[4:8], d.Generation)
	return buf
}

// DecodeSenderData parses a SenderData without panicking on truncated
// input.
func DecodeSenderData(data []byte) (*SenderData, error) {
	if len(data) < 8 {
		return nil, errSerializationInvalid("mlsgroup.DecodeSenderData", fmt.Errorf("truncated sender data"))
	}
	return &SenderData{
		SenderLeaf: LeafIndex(binary.LittleEndian.Uint32(data[0:4])),
		Generation: binary.LittleEndian.Uint32(data[4:8]),
	}, nil
}

// EncryptedGroupBlob is the at-rest wire format for both a saved group and
// a historical snapshot: `{version:u8, group_id:32B, epoch:u64 LE,
// salt:16B, nonce:12B, aad_len:u16 LE, aad, ct_len:u32 LE, ciphertext,
// tag:16B}`.
type EncryptedGroupBlob struct {
	Version    uint8
	GroupID    identity.GroupId
	Epoch      uint64
	Salt       [16]byte
	Nonce      [12]byte
	AAD        []byte
	Ciphertext []byte // excludes the trailing 16-byte GCM tag
	Tag        [16]byte
}

// EncodeGroupBlob serializes b deterministically.
func EncodeGroupBlob(b *EncryptedGroupBlob) []byte {
	buf := make([]byte, 1+32+8+16+12+2+len(b.AAD)+4+len(b.Ciphertext)+16)
	off := 0
	buf[off] = b.Version
	off++
	copy(buf[off:], b.GroupID[:])
	off += 32
	binary.LittleEndian.PutUint64(buf[off:], b.Epoch)
	off += 8
	copy(buf[off:], b.Salt[:])
	off += 16
	copy(buf[off:], b.Nonce[:])
	off += 12
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(b.AAD)))
	off += 2
	copy(buf[off:], b.AAD)
	off += len(b.AAD)
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(b.Ciphertext)))
	off += 4
	copy(buf[off:], b.Ciphertext)
	off += len(b.Ciphertext)
	copy(buf[off:], b.Tag[:])
	return buf
}

// DecodeGroupBlob parses an EncryptedGroupBlob without panicking on
// truncated or adversarial input.
func DecodeGroupBlob(data []byte) (*EncryptedGroupBlob, error) {
	const fixedLen = 1 + 32 + 8 + 16 + 12 + 2
	if len(data) < fixedLen {
		return nil, errSerializationInvalid("mlsgroup.DecodeGroupBlob", fmt.Errorf("truncated header"))
	}
	off := 0
	var b EncryptedGroupBlob
	b.Version = data[off]
	off++
	copy(b.GroupID[:], data[off:off+32])
	off += 32
	b.Epoch = binary.LittleEndian.Uint64(data[off : off+8])
	off += 8
	copy(b.Salt[:], data[off:off+16])
	off += 16
	copy(b.Nonce[:], data[off:off+12])
	off += 12
	aadLen := binary.LittleEndian.Uint16(data[off : off+2])
	off += 2
	if len(data) < off+int(aadLen)+4 {
		return nil, errSerializationInvalid("mlsgroup.DecodeGroupBlob", fmt.Errorf("aad length out of bounds"))
	}
	b.AAD = append([]byte(nil), data[off:off+int(aadLen)]...)
	off += int(aadLen)
	ctLen := binary.LittleEndian.Uint32(data[off : off+4])
	off += 4
	if uint64(off)+uint64(ctLen)+16 != uint64(len(data)) {
		return nil, errSerializationInvalid("mlsgroup.DecodeGroupBlob", fmt.Errorf("ciphertext length out of bounds"))
	}
	b.Ciphertext = append([]byte(nil), data[off:off+int(ctLen)]...)
	off += int(ctLen)
	copy(b.Tag[:], data[off:off+16])
	return &b, nil
}
