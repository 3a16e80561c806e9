package vaultstate

import (
	"encoding/hex"

	"lukechampine.com/blake3"
)

var (
	vaultRecordPrefix = []byte("vault/record/")
	userRecordPrefix  = []byte("vault/user/")
)

// vaultKey hashes the identifier so arbitrary vault ids map to fixed-width
// keys.
func vaultKey(vaultID string) []byte {
	sum := blake3.Sum256([]byte(vaultID))
	return append(append([]byte(nil), vaultRecordPrefix...), hex.EncodeToString(sum[:])...)
}

func userKey(vaultID, user string) []byte {
	buf := make([]byte, 0, len(vaultID)+len(user)+1)
	buf = append(buf, vaultID...)
	buf = append(buf, 0)
	buf = append(buf, user...)
	sum := blake3.Sum256(buf)
	return append(append([]byte(nil), userRecordPrefix...), hex.EncodeToString(sum[:])...)
}
