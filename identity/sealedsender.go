package identity

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// sealedSenderLabel is the fixed HKDF info label for deriving per-epoch
// sealed-sender keys.
const sealedSenderLabel = "sealed-sender"

// DeriveSealedSenderKey derives sender_key = HKDF-expand(exporterSecret,
// "sealed-sender", epoch). The epoch is folded into the HKDF info so keys
// from different epochs are independent: unsealing with the wrong epoch's
// key must fail.
func DeriveSealedSenderKey(exporterSecret []byte, epoch uint64) ([]byte, error) {
	info := make([]byte, len(sealedSenderLabel)+8)
	copy(info, sealedSenderLabel)
	binary.BigEndian.PutUint64(info[len(sealedSenderLabel):], epoch)

	r := hkdf.New(sha256.New, exporterSecret, nil, info)
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("identity: derive sealed-sender key: %w", err)
	}
	return key, nil
}
