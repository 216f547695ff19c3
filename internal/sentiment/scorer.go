// Package sentiment scores news headlines into a bounded scalar.
package sentiment

import (
	"math"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

// 키워드 사전 (토큰 단위 일치, 굴절형은 inflections 참고)
var (
	DefaultPositive = []string{
		"growth", "profit", "beat", "upgrade", "rise", "gain",
		"strong", "success", "record", "high", "boost", "rally",
	}
	DefaultNegative = []string{
		"loss", "miss", "downgrade", "fall", "decline", "weak",
		"concern", "cut", "layoff", "lawsuit", "investigation", "drop",
	}
)

// Result 감성 점수 결과
type Result struct {
	Score            float64 `json:"score"` // [-1, 1]
	Count            int     `json:"count"` // 사용된 헤드라인 수
	Positive         int     `json:"positive"`
	Negative         int     `json:"negative"`
	InsufficientData bool    `json:"insufficient_data"`
}

type keyword struct {
	word     string
	polarity int // +1 / -1
}

// Scorer 키워드 기반 감성 점수기 (결정적, 내부 난수 없음)
type Scorer struct {
	forms map[string]keyword // 굴절형 → 원형 키워드
}

// NewScorer creates a scorer with the default dictionaries
func NewScorer() *Scorer {
	return NewScorerWithWords(DefaultPositive, DefaultNegative)
}

// NewScorerWithWords creates a scorer with custom dictionaries
func NewScorerWithWords(positive, negative []string) *Scorer {
	s := &Scorer{forms: make(map[string]keyword)}
	s.add(positive, 1)
	s.add(negative, -1)
	return s
}

// add registers every inflected form; a form already taken keeps its first keyword
func (s *Scorer) add(words []string, polarity int) {
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		for _, form := range inflections(w) {
			if _, taken := s.forms[form]; !taken {
				s.forms[form] = keyword{word: w, polarity: polarity}
			}
		}
	}
}

// Score maps headlines to tanh(Σ(pos−neg) / n).
// Each keyword counts at most once per headline, however often it repeats.
// Empty input (or input with no text after markup removal) is neutral with InsufficientData set.
func (s *Scorer) Score(headlines []string) Result {
	var res Result
	net := 0

	for _, h := range headlines {
		tokens := tokenize(StripHTML(h))
		if len(tokens) == 0 {
			continue
		}
		res.Count++

		seen := make(map[string]struct{})
		for _, tok := range tokens {
			kw, ok := s.forms[tok]
			if !ok {
				continue
			}
			if _, dup := seen[kw.word]; dup {
				continue
			}
			seen[kw.word] = struct{}{}

			if kw.polarity > 0 {
				res.Positive++
			} else {
				res.Negative++
			}
			net += kw.polarity
		}
	}

	if res.Count == 0 {
		res.InsufficientData = true
		return res
	}

	res.Score = math.Tanh(float64(net) / float64(res.Count))
	return res
}

// StripHTML returns the visible text of an HTML fragment
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return doc.Text()
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}

// extraForms 불규칙 변화형과 비교급 (규칙 접미어로 만들지 않음)
var extraForms = map[string][]string{
	"rise":   {"rose", "risen"},
	"fall":   {"fell", "fallen"},
	"beat":   {"beaten"},
	"high":   {"higher", "highest"},
	"strong": {"stronger", "strongest"},
	"weak":   {"weaker", "weakest"},
}

// inflections lists the whole-token forms a keyword matches:
// -s/-es/-ed/-ing with e-drop, y→i and consonant doubling.
// "high" matches "highs" but never "highway"; "cut" never matches "cute".
func inflections(w string) []string {
	forms := []string{w, w + "s", w + "es", w + "ed", w + "ing"}

	n := len(w)
	switch {
	case strings.HasSuffix(w, "e"):
		forms = append(forms, w+"d", w[:n-1]+"ing")
	case n > 1 && w[n-1] == 'y' && !isVowel(w[n-2]):
		stem := w[:n-1]
		forms = append(forms, stem+"ies", stem+"ied")
	case n > 2 && !isVowel(w[n-1]) && isVowel(w[n-2]) && !isVowel(w[n-3]) && !strings.ContainsRune("wxy", rune(w[n-1])):
		last := w[n-1:]
		forms = append(forms, w+last+"ed", w+last+"ing")
	}

	return append(forms, extraForms[w]...)
}

func isVowel(b byte) bool {
	return strings.IndexByte("aeiou", b) >= 0
}
