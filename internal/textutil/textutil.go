// Package textutil 提供流水线共用的纯文本统计原语：
// 归一化、分词、集合相似度与分句。全部为无副作用的纯函数。
package textutil

import (
	"strings"
	"unicode"
)

// Normalize lowercases s, strips punctuation, and collapses whitespace.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			b.WriteRune(unicode.ToLower(r))
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		default:
			// 标点一律当作分隔符
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// Tokens splits s into normalized word tokens.
func Tokens(s string) []string {
	n := Normalize(s)
	if n == "" {
		return nil
	}
	return strings.Fields(n)
}

// TokenSet returns the set of normalized tokens in s.
func TokenSet(s string) map[string]struct{} {
	tokens := Tokens(s)
	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		set[tok] = struct{}{}
	}
	return set
}

// Jaccard 计算两个词集的 Jaccard 相似度。
// 两侧皆空视为相同（1.0），单侧为空视为无重叠（0.0）。
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// Similarity is the normalized token-overlap similarity between two strings.
func Similarity(a, b string) float64 {
	return Jaccard(TokenSet(a), TokenSet(b))
}

// Sentences splits text into trimmed sentences on ./!/? boundaries.
// 空白句子会被丢弃。
func Sentences(text string) []string {
	var out []string
	var cur strings.Builder
	for _, r := range text {
		cur.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(cur.String()); s != "" {
				out = append(out, s)
			}
			cur.Reset()
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		out = append(out, s)
	}
	return out
}

// SharedLongTokens counts tokens of length > minLen appearing in both strings.
func SharedLongTokens(a, b string, minLen int) int {
	bSet := TokenSet(b)
	count := 0
	for tok := range TokenSet(a) {
		if len(tok) > minLen {
			if _, ok := bSet[tok]; ok {
				count++
			}
		}
	}
	return count
}
