// Package matcher 实现了训练问题之间的相似度计算。
// 这是一个刻意廉价的词袋启发式：关键词重叠 + 同义词表，
// 不依赖 embedding 或任何机器学习模型。
package matcher

import (
	"strings"
	"unicode"
)

// DefaultThreshold 是调用方默认采用的相似度接受阈值。
const DefaultThreshold = 0.6

// stopWords 是被剔除的停用词（冠词、助动词、疑问词等）。
var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {}, "being": {},
	"do": {}, "does": {}, "did": {}, "have": {}, "has": {}, "had": {},
	"can": {}, "could": {}, "will": {}, "would": {}, "shall": {}, "should": {},
	"may": {}, "might": {}, "must": {},
	"what": {}, "when": {}, "where": {}, "who": {}, "whom": {}, "which": {},
	"why": {}, "how": {},
	"you": {}, "your": {}, "yours": {}, "our": {}, "ours": {}, "their": {},
	"this": {}, "that": {}, "these": {}, "those": {}, "there": {},
	"for": {}, "with": {}, "about": {}, "from": {}, "into": {},
	"please": {}, "tell": {},
}

// synonymGroups 是固定的同义词分组，同组内任意两词视为匹配。
var synonymGroups = [][]string{
	{"price", "cost", "fee", "charge", "pricing", "rate"},
	{"hours", "schedule", "timing", "open", "opening", "close", "closing"},
	{"buy", "purchase", "order", "get"},
	{"ship", "shipping", "deliver", "delivery", "send"},
	{"return", "refund", "exchange", "cancel"},
	{"help", "support", "assist", "assistance"},
	{"contact", "reach", "email", "phone", "call"},
	{"location", "address", "place", "store", "shop"},
	{"product", "item", "goods"},
	{"account", "profile", "login", "signin"},
	{"payment", "pay", "checkout", "billing"},
	{"warranty", "guarantee"},
	{"discount", "coupon", "promo", "sale", "deal"},
}

// synonymIndex 将每个词映射到其所属分组编号，启动时构建一次。
var synonymIndex = buildSynonymIndex()

func buildSynonymIndex() map[string]int {
	idx := make(map[string]int)
	for groupID, group := range synonymGroups {
		for _, w := range group {
			idx[w] = groupID
		}
	}
	return idx
}

// Similarity 计算两个自由文本问题的相似度，范围 [0,1]。
// 两侧关键词集合都非空时取 关键词重叠分 与 同义词重叠分 的较大值；
// 任一侧为空则退化为归一化的 Levenshtein 距离比。
func Similarity(a, b string) float64 {
	na := normalize(a)
	nb := normalize(b)
	if na == nb {
		return 1.0
	}

	ka := Keywords(na)
	kb := Keywords(nb)
	if len(ka) == 0 || len(kb) == 0 {
		return levenshteinRatio(na, nb)
	}

	keyword := keywordOverlap(ka, kb)
	synonym := synonymOverlap(ka, kb)
	if synonym > keyword {
		return synonym
	}
	return keyword
}

// BestMatch 在 candidates 中寻找与 query 相似度最高且达到阈值的一项。
// 相同分数保留先出现者（遍历顺序稳定，平局不随机）。
func BestMatch(query string, candidates []string, threshold float64) (int, float64, bool) {
	bestIdx := -1
	bestScore := 0.0
	for i, c := range candidates {
		score := Similarity(query, c)
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	if bestIdx >= 0 && bestScore >= threshold {
		return bestIdx, bestScore, true
	}
	return -1, bestScore, false
}

// Keywords 将归一化后的文本切分为关键词：剔除停用词与长度 ≤ 2 的词。
func Keywords(s string) []string {
	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	for _, w := range fields {
		if len(w) <= 2 {
			continue
		}
		if _, ok := stopWords[w]; ok {
			continue
		}
		out = append(out, w)
	}
	return out
}

// normalize 小写化并把所有标点替换为空格。
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// keywordOverlap = |交集| / max(|A|, |B|)，按去重后的集合计算。
func keywordOverlap(a, b []string) float64 {
	setA := toSet(a)
	setB := toSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			inter++
		}
	}
	maxLen := len(setA)
	if len(setB) > maxLen {
		maxLen = len(setB)
	}
	return float64(inter) / float64(maxLen)
}

// synonymOverlap 对所有跨对 (ta, tb) 计数：相同词或同组同义词记一次匹配，
// 分数 = 匹配数 / 比较的跨对总数。
func synonymOverlap(a, b []string) float64 {
	total := 0
	matches := 0
	for _, ta := range a {
		for _, tb := range b {
			total++
			if ta == tb || sameSynonymGroup(ta, tb) {
				matches++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(matches) / float64(total)
}

func sameSynonymGroup(a, b string) bool {
	ga, ok := synonymIndex[a]
	if !ok {
		return false
	}
	gb, ok := synonymIndex[b]
	return ok && ga == gb
}

func toSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// levenshteinRatio = 1 - distance/max(len)，对空串对返回 1。
func levenshteinRatio(a, b string) float64 {
	ra := []rune(a)
	rb := []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshtein(ra, rb))/float64(maxLen)
}

// levenshtein 计算两个 rune 序列的编辑距离（单行滚动数组）。
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			min := del
			if ins < min {
				min = ins
			}
			if sub < min {
				min = sub
			}
			curr[j] = min
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
