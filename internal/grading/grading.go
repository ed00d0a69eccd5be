// Package grading normalizes free-text guesses and fuzzy-matches them
// against clue answers.
package grading

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/victornm/quizparty/internal/domain"
)

const DefaultThreshold = 0.6

var (
	reAmpersand     = regexp.MustCompile(`(?i)\s+(&nbsp;|&)\s+`)
	rePunctuation   = regexp.MustCompile(`[^\w\s]`)
	reInterrogative = regexp.MustCompile(`(?i)^(what|whats|where|wheres|who|whos|when|whens) `)
	reCopula        = regexp.MustCompile(`^(is|are|was|were) `)
	reArticle       = regexp.MustCompile(`(?i)^(the|a|an) `)
	reQuestionMarks = regexp.MustCompile(`\?+$`)
)

// Grader compares normalized guesses to clue answers.
type Grader struct {
	threshold float64
}

// NewGrader returns a Grader accepting fuzzy matches at or above threshold.
// A threshold <= 0 falls back to DefaultThreshold.
func NewGrader(threshold float64) *Grader {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Grader{threshold: threshold}
}

// Result is the outcome of grading one guess against one clue.
type Result struct {
	// Exact means the normalized guess matched an answer outright.
	Exact bool
	// Close means the guess cleared the similarity threshold without
	// matching outright.
	Close   bool
	Correct bool
}

// Normalize lowers, strips punctuation, collapses ampersands to "and", and
// drops the leading interrogative/copula/article a player typically wraps
// an answer in ("what is the ...").
func Normalize(text string) string {
	s := reAmpersand.ReplaceAllString(strings.TrimSpace(text), " and ")
	s = rePunctuation.ReplaceAllString(s, "")
	s = reInterrogative.ReplaceAllString(s, "")
	s = reCopula.ReplaceAllString(s, "")
	s = reArticle.ReplaceAllString(s, "")
	s = reQuestionMarks.ReplaceAllString(s, "")
	return strings.ToLower(strings.TrimSpace(s))
}

// Similarity is the White similarity coefficient of a and b: the overlap
// ratio of word-internal character bigrams, in [0, 1]. It is symmetric and
// insensitive to word order.
func Similarity(a, b string) float64 {
	pa, pb := wordPairs(a), wordPairs(b)
	if len(pa) == 0 && len(pb) == 0 {
		if strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b)) {
			return 1
		}
		return 0
	}
	if len(pa) == 0 || len(pb) == 0 {
		return 0
	}

	counts := make(map[string]int, len(pb))
	for _, p := range pb {
		counts[p]++
	}

	matches := 0
	for _, p := range pa {
		if counts[p] > 0 {
			counts[p]--
			matches++
		}
	}

	return 2 * float64(matches) / float64(len(pa)+len(pb))
}

func wordPairs(s string) []string {
	var pairs []string
	for _, w := range strings.Fields(strings.ToUpper(s)) {
		r := []rune(w)
		for i := 0; i+1 < len(r); i++ {
			pairs = append(pairs, string(r[i:i+2]))
		}
	}
	return pairs
}

// Grade compares a guess against the clue's primary and alternate answers.
// Both sides go through Normalize: stored answers keep characters (hyphens,
// slashes) that Normalize strips from guesses, so comparing raw answer text
// against a normalized guess would fail a player typing the exact answer.
func (g *Grader) Grade(clue domain.Clue, guess string) Result {
	guess = Normalize(guess)
	answer := Normalize(clue.Answer)
	alternate := ""
	if clue.Alternate != "" {
		alternate = Normalize(clue.Alternate)
	}

	sim := Similarity(answer, guess)
	altSim := 0.0
	if alternate != "" {
		altSim = Similarity(alternate, guess)
	}

	var res Result
	res.Exact = guess == answer ||
		(alternate != "" && guess == alternate) ||
		sim == 1 || altSim == 1
	res.Close = sim >= g.threshold || altSim >= g.threshold
	res.Correct = res.Exact || res.Close
	return res
}

var (
	reTrailingParen  = regexp.MustCompile(`.+\((.*)\)`)
	reLeadingParen   = regexp.MustCompile(`^\((.*)\)`)
	reAnyParen       = regexp.MustCompile(`\(.*?\)`)
	reConnective     = regexp.MustCompile(`(?i)^(or|alternatively|alternate) `)
	reAnswerResidual = regexp.MustCompile(`[^/[:alnum:]\s\-]`)

	sanitizer = bluemonday.StrictPolicy()
)

// CleanClue turns a raw catalog record into a graded-against clue. It
// returns nil for degenerate records (empty question or answer, or ones
// flagged invalid upstream) so they never enter a pool.
func CleanClue(raw domain.RawClue) *domain.Clue {
	value := raw.Value
	if value == 0 {
		value = 200
	}

	answer := reAmpersand.ReplaceAllString(raw.Answer, " and ")
	answer = html.UnescapeString(sanitizer.Sanitize(answer))
	answer = reArticle.ReplaceAllString(answer, "")
	answer = strings.ToLower(strings.TrimSpace(answer))

	alternate := ""
	if m := reTrailingParen.FindStringSubmatch(answer); m != nil {
		// Trailing parens usually carry an accepted alternative answer.
		alternate = reAnswerResidual.ReplaceAllString(reConnective.ReplaceAllString(m[1], ""), "")
	}
	if reLeadingParen.MatchString(answer) {
		// Leading parens usually mark an optional first name; accept the
		// full phrasing as the alternate while the primary drops it.
		alternate = reAnswerResidual.ReplaceAllString(answer, "")
	}

	answer = reAnyParen.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(reAnswerResidual.ReplaceAllString(answer, ""))

	if answer == "" || strings.TrimSpace(raw.Question) == "" || raw.Invalid {
		return nil
	}

	return &domain.Clue{
		ID:          raw.ID,
		Category:    raw.CategoryTitle,
		Question:    strings.TrimSpace(raw.Question),
		Answer:      answer,
		Alternate:   strings.TrimSpace(alternate),
		Value:       value,
		DailyDouble: raw.DailyDouble,
		AirDate:     raw.AirDate,
	}
}
