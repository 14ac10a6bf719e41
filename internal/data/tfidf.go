package data

import (
	"math"
	"strings"
	"unicode"
)

// 轻量 TF-IDF + 余弦相似度，用于新闻相关性与去重。
// 中文等 CJK 文本按单字切分，拉丁文本按字母数字连续段切分。

func tokenize(text string) []string {
	text = strings.ToLower(text)
	var tokens []string
	var word strings.Builder
	flush := func() {
		if word.Len() > 0 {
			tokens = append(tokens, word.String())
			word.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			word.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

type termVector map[string]float64

// tfidfVectors 对整组文档计算 TF-IDF 向量（idf 采用平滑公式 ln((n+1)/(df+1))+1）。
func tfidfVectors(docs []string) []termVector {
	n := len(docs)
	tokenized := make([][]string, n)
	df := make(map[string]int)
	for i, doc := range docs {
		tokenized[i] = tokenize(doc)
		seen := make(map[string]struct{})
		for _, tok := range tokenized[i] {
			if _, ok := seen[tok]; !ok {
				seen[tok] = struct{}{}
				df[tok]++
			}
		}
	}
	idf := make(map[string]float64, len(df))
	for tok, count := range df {
		idf[tok] = math.Log(float64(n+1)/float64(count+1)) + 1
	}
	vectors := make([]termVector, n)
	for i, toks := range tokenized {
		vec := make(termVector)
		for _, tok := range toks {
			vec[tok]++
		}
		for tok := range vec {
			vec[tok] *= idf[tok]
		}
		vectors[i] = vec
	}
	return vectors
}

func cosineSimilarity(a, b termVector) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	// 遍历较小的向量
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot float64
	for tok, av := range a {
		if bv, ok := b[tok]; ok {
			dot += av * bv
		}
	}
	if dot == 0 {
		return 0
	}
	return dot / (norm(a) * norm(b))
}

func norm(v termVector) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}
