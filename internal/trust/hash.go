// Package trust implements the TRUST ledger primitives: content hashing of
// messages, ledger snapshots, hash-chained blocks and ledger/chain comparison.
//
// Everything here is a pure function of its inputs. Two devices holding the
// same message set derive the same ledger, and two devices holding the same
// ledger history derive the same chain, so either side can re-verify the
// other's blocks without trusting it.
package trust

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
)

// Content is the hashed projection of a message.
type Content struct {
	ID           string
	Status       string
	Text         string
	AudioPayload string
}

// HashMessage returns the hex SHA-256 of id|status|text|audio.
// Any change to status or content changes the digest.
func HashMessage(c Content) string {
	base := strings.Join([]string{c.ID, c.Status, c.Text, c.AudioPayload}, "|")
	return digest([]byte(base))
}

// BlockHash returns the hex SHA-256 of JSON(ledger) ++ previousHash ++ blockNumber.
func BlockHash(ledger Ledger, previousHash string, blockNumber int64) string {
	if ledger == nil {
		ledger = Ledger{}
	}
	raw, err := json.Marshal(ledger)
	if err != nil {
		// LedgerEntry holds only strings; Marshal cannot fail.
		panic(err)
	}
	buf := make([]byte, 0, len(raw)+len(previousHash)+20)
	buf = append(buf, raw...)
	buf = append(buf, previousHash...)
	buf = strconv.AppendInt(buf, blockNumber, 10)
	return digest(buf)
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
