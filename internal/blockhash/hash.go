// Package blockhash defines the block-id type shared by the downloader,
// the blockchain store, and the wire codec, following the teacher pack's
// use of btcsuite's fixed-size chainhash.Hash for block identifiers
// (see _examples/549869500-go-earthcoin/wire/blockheader.go).
package blockhash

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Hash is a block id: a cryptographic hash uniquely naming a block.
type Hash = chainhash.Hash

// Zero is the all-zero hash, used as a sentinel "no block" value.
var Zero = Hash{}

// FromHex decodes a hex-encoded hash string.
func FromHex(s string) (Hash, error) {
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return Hash{}, err
	}
	return *h, nil
}

// FromBytes hashes b with double SHA-256, matching chainhash's own
// convention for deriving a Hash from arbitrary bytes.
func FromBytes(b []byte) (Hash, error) {
	h, err := chainhash.NewHash(chainhash.DoubleHashB(b))
	if err != nil {
		return Hash{}, err
	}
	return *h, nil
}
