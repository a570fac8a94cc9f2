package handlers

import (
	"encoding/base64"
	"errors"
)

var (
	errUnsupportedProposal = errors.New("handlers: only remove proposals are supported by this demo daemon")
	errGroupNotFound       = errors.New("handlers: group not found")
)

func encodeB64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func decodeAll(values ...string) ([][]byte, error) {
	out := make([][]byte, len(values))
	for i, v := range values {
		b, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}
