// Package fingerprint derives the content signature used to pre-filter
// reconciliation candidates.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"math/bits"
	"strings"

	"horse.fit/jobdedup/internal/posting"
)

const descriptionPrefixRunes = 500

// Of computes the fingerprint of a normalized posting. It is pure: identical
// normalized input always yields an identical fingerprint.
func Of(n posting.Normalized) posting.Fingerprint {
	description := truncateRunes(posting.FoldText(n.Description), descriptionPrefixRunes)
	title := strings.Join(n.TitleTokens, " ")

	content := strings.Join([]string{title, n.CompanyKey, n.MetroKey, description}, "|")
	sum := sha256.Sum256([]byte(content))

	tokens := append([]string{}, n.TitleTokens...)
	tokens = append(tokens, posting.Tokenize(description)...)

	return posting.Fingerprint{
		BucketKey:   bucketKey(n.CompanyKey, sum[:]),
		ContentHash: sum[:],
		SimHash:     simhash64(tokens),
	}
}

// Postings from the same company share a bucket. Without a company only exact
// content duplicates can be found, so the bucket is the content hash itself.
func bucketKey(companyKey string, contentHash []byte) string {
	if companyKey != "" {
		return "c:" + companyKey
	}
	return "h:" + hex.EncodeToString(contentHash[:8])
}

// Distance is the Hamming distance between two simhashes.
func Distance(left, right uint64) int {
	return bits.OnesCount64(left ^ right)
}

func simhash64(tokens []string) uint64 {
	if len(tokens) == 0 {
		return 0
	}

	var bitWeights [64]int
	for _, token := range tokens {
		h := hashToken64(token)
		for bit := 0; bit < 64; bit++ {
			mask := uint64(1) << bit
			if h&mask != 0 {
				bitWeights[bit]++
			} else {
				bitWeights[bit]--
			}
		}
	}

	var result uint64
	for bit := 0; bit < 64; bit++ {
		if bitWeights[bit] > 0 {
			result |= uint64(1) << bit
		}
	}
	return result
}

func hashToken64(token string) uint64 {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(token))
	return hasher.Sum64()
}

func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
