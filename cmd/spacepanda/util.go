package main

import (
	"bytes"
	"context"
	"encoding/gob"
	"time"

	"github.com/mr-tron/base58"

	"github.com/spacepanda/core/identity"
)

const cliTimeout = 30 * time.Second

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), cliTimeout)
}

func now() int64 { return time.Now().Unix() }

// encodeKeyPackage/decodeKeyPackage give operators a copy-pasteable token
// for the out-of-band step invite requires: the joiner hands their
// KeyPackage to whoever is going to invite them (same gob+base58 codec
// channelmgr.InviteToken uses for its own wire form).
func encodeKeyPackage(kp *identity.KeyPackage) (string, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(kp); err != nil {
		return "", err
	}
	return base58.Encode(buf.Bytes()), nil
}

func decodeKeyPackage(s string) (*identity.KeyPackage, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, err
	}
	var kp identity.KeyPackage
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&kp); err != nil {
		return nil, err
	}
	return &kp, nil
}
