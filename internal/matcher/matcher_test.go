package matcher

import (
	"math"
	"testing"
)

func TestSimilarityIdentical(t *testing.T) {
	if got := Similarity("What are your hours?", "what are your hours"); got != 1.0 {
		t.Fatalf("expected 1.0 for identical question, got %f", got)
	}
}

func TestSimilaritySynonyms(t *testing.T) {
	// "hours" 与 "opening" 在同一同义词分组，跨对全部匹配
	got := Similarity("What are your hours?", "what r ur opening hours")
	if got < DefaultThreshold {
		t.Fatalf("expected synonym overlap >= %v, got %f", DefaultThreshold, got)
	}
}

func TestSimilarityUnrelated(t *testing.T) {
	got := Similarity("tell me a joke", "what are your hours")
	if got >= DefaultThreshold {
		t.Fatalf("unrelated questions should stay below threshold, got %f", got)
	}
}

func TestSimilarityKeywordOverlapRatio(t *testing.T) {
	// 交集 3，较大集合 5 → 0.6；所用词不在任何同义词分组，
	// 同义词分 = 3/25 不会超过关键词分。
	a := "alpha bravo charlie delta echo"
	b := "alpha bravo charlie foxtrot golf"
	got := Similarity(a, b)
	if math.Abs(got-0.6) > 1e-9 {
		t.Fatalf("expected keyword overlap 0.6, got %f", got)
	}
}

func TestBestMatchThresholdBoundary(t *testing.T) {
	query := "alpha bravo charlie delta echo"
	candidates := []string{
		"alpha bravo charlie foxtrot golf", // 恰好 0.6
		"foxtrot golf hotel india juliet",  // 0
	}
	idx, score, ok := BestMatch(query, candidates, 0.6)
	if !ok || idx != 0 {
		t.Fatalf("score exactly at threshold must be accepted, idx=%d ok=%v score=%f", idx, ok, score)
	}

	// 交集 2 / 5 = 0.4，低于阈值必须落空
	_, _, ok = BestMatch(query, []string{"alpha bravo foxtrot golf hotel"}, 0.6)
	if ok {
		t.Fatal("score below threshold must fall through")
	}
}

func TestBestMatchStableTie(t *testing.T) {
	query := "alpha bravo charlie"
	// 两个候选与 query 的相似度相同，必须保留先出现者
	candidates := []string{
		"alpha bravo foxtrot",
		"alpha bravo golf",
	}
	idx, _, ok := BestMatch(query, candidates, 0.5)
	if !ok || idx != 0 {
		t.Fatalf("tie must resolve to first candidate, got idx=%d ok=%v", idx, ok)
	}
}

func TestBestMatchPicksHighest(t *testing.T) {
	query := "alpha bravo charlie delta"
	candidates := []string{
		"alpha foxtrot golf hotel",    // 1/4
		"alpha bravo charlie delta",   // 1.0
		"alpha bravo charlie foxtrot", // 3/4
	}
	idx, score, ok := BestMatch(query, candidates, 0.6)
	if !ok || idx != 1 || score != 1.0 {
		t.Fatalf("expected best candidate idx=1 score=1.0, got idx=%d score=%f ok=%v", idx, score, ok)
	}
}

func TestSimilarityLevenshteinFallback(t *testing.T) {
	// 双方分词后均为空（全部是停用词或短词），回退到编辑距离比
	got := Similarity("is it", "is at")
	want := 1.0 - 1.0/5.0
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("expected levenshtein ratio %f, got %f", want, got)
	}
}

func TestKeywordsFiltering(t *testing.T) {
	kw := Keywords("what are your opening hours on friday")
	want := map[string]bool{"opening": true, "hours": true, "friday": true}
	if len(kw) != len(want) {
		t.Fatalf("unexpected keywords: %v", kw)
	}
	for _, w := range kw {
		if !want[w] {
			t.Fatalf("unexpected keyword %q in %v", w, kw)
		}
	}
}

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
		{"flaw", "lawn", 2},
	}
	for _, c := range cases {
		if got := levenshtein([]rune(c.a), []rune(c.b)); got != c.want {
			t.Errorf("levenshtein(%q,%q)=%d, want %d", c.a, c.b, got, c.want)
		}
	}
}
