package querystore

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math/big"
)

// DecodeWords decodes a base64(u32) payload into little-endian 32-bit words.
func DecodeWords(encoded string) ([]uint32, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}

	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("payload of %d bytes is not a whole number of words", len(raw))
	}

	words := make([]uint32, len(raw)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(raw[4*i:])
	}

	return words, nil
}

// EncodeWords encodes words as a base64(u32) payload.
func EncodeWords(words []uint32) string {
	raw := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(raw[4*i:], w)
	}

	return base64.StdEncoding.EncodeToString(raw)
}

// WordsToInt assembles a value from words, least significant word first.
func WordsToInt(words []uint32) *big.Int {
	v := new(big.Int)
	for i := len(words) - 1; i >= 0; i-- {
		v.Lsh(v, 32)
		v.Or(v, new(big.Int).SetUint64(uint64(words[i])))
	}

	return v
}

// IntToWords splits a non-negative value into n words, least significant
// first. Bits above n words are dropped.
func IntToWords(v *big.Int, n int) []uint32 {
	words := make([]uint32, n)
	rest := new(big.Int).Set(v)
	mask := new(big.Int).SetUint64(0xffffffff)

	for i := 0; i < n; i++ {
		words[i] = uint32(new(big.Int).And(rest, mask).Uint64())
		rest.Rsh(rest, 32)
	}

	return words
}
