// CLAUDE:SUMMARY ID and code generation — idgen for row ids, crypto/rand for asset ids, invite and device codes
package db

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"

	"github.com/hazyhaar/pkg/idgen"
)

// NewID generates a 12-character base-36 ID using the canonical idgen package.
func NewID() string {
	return idgen.New()
}

// RandomHex returns 2n lowercase hex characters.
func RandomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// randomFrom draws n characters uniformly from alphabet.
func randomFrom(alphabet string, n int) string {
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand: " + err.Error())
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out)
}

const (
	inviteAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	// No 0/O or 1/I so codes survive being read aloud.
	cliCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// NewInviteCode returns a 7-letter uppercase code.
func NewInviteCode() string { return randomFrom(inviteAlphabet, 7) }

func newCLICode() string { return randomFrom(cliCodeAlphabet, 8) }

var assetPrefixes = map[string]string{
	"skill":      "s",
	"config":     "c",
	"plugin":     "p",
	"trigger":    "tr",
	"channel":    "ch",
	"template":   "t",
	"experience": "e",
}

func newAssetID(assetType string) string {
	prefix, ok := assetPrefixes[assetType]
	if !ok {
		prefix = "x"
	}
	return prefix + "-" + RandomHex(8)
}
