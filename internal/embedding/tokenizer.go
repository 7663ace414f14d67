package embedding

import (
	"hash/fnv"
	"unicode"
)

// Tokenizer produces model inputs (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// XLM-RoBERTa special ids, shared by KoE5 and the multilingual-e5 family.
const (
	bosTokenID = 0
	padTokenID = 1
	eosTokenID = 2
	// firstWordID keeps hashed ids clear of <s>, <pad>, </s> and <unk>.
	firstWordID = 4
	vocabSize   = 250002
)

// SimpleTokenizer splits on whitespace and punctuation and hashes each piece into the
// vocabulary range. It only serves ONNX exports that ship without a sentencepiece model.
type SimpleTokenizer struct{}

// Tokenize returns <s> pieces... </s> padded with <pad> to maxTokens.
func (t *SimpleTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 0 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)
	for i := range inputIDs {
		inputIDs[i] = padTokenID
	}

	inputIDs[0] = bosTokenID
	attentionMask[0] = 1
	pos := 1
	for _, piece := range SplitWords(text) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = int64(firstWordID + HashString(piece)%(vocabSize-firstWordID))
		attentionMask[pos] = 1
		pos++
	}
	if pos < maxTokens {
		inputIDs[pos] = eosTokenID
		attentionMask[pos] = 1
	}
	return inputIDs, attentionMask, tokenTypeIDs
}

// SplitWords splits text into words and single punctuation marks, so "서비스인가요?" yields
// "서비스인가요" and "?". Returns nil when there are none.
func SplitWords(text string) []string {
	var words []string
	start := -1
	for i, r := range text {
		switch {
		case unicode.IsSpace(r):
			if start >= 0 {
				words = append(words, text[start:i])
				start = -1
			}
		case unicode.IsPunct(r) && r != '.':
			if start >= 0 {
				words = append(words, text[start:i])
				start = -1
			}
			words = append(words, string(r))
		default:
			if start < 0 {
				start = i
			}
		}
	}
	if start >= 0 {
		words = append(words, text[start:])
	}
	return words
}

// HashString returns a deterministic non-negative hash of s.
func HashString(s string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() & 0x7fffffff)
}
