package grading_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/quizparty/internal/domain"
	"github.com/victornm/quizparty/internal/grading"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		in   string
		want string
	}{
		"lower-cases and trims":              {"  The Great Gatsby  ", "great gatsby"},
		"drops interrogative and copula":     {"What is the answer?", "answer"},
		"drops contracted interrogative":     {"whats a tomato", "tomato"},
		"drops who/where forms":              {"Who was Napoleon", "napoleon"},
		"drops when":                         {"when is now", "now"},
		"strips punctuation":                 {"don't-stop!", "dontstop"},
		"collapses ampersand":                {"salt & pepper", "salt and pepper"},
		"collapses nbsp entity":              {"salt &nbsp; pepper", "salt and pepper"},
		"drops leading article only":         {"a night to remember", "night to remember"},
		"keeps article mid-string":           {"war of the worlds", "war of the worlds"},
		"strips trailing question marks":     {"paris???", "paris"},
		"bare copula is stripped":            {"is this love", "this love"},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, grading.Normalize(tt.in))
		})
	}
}

func TestSimilarity(t *testing.T) {
	t.Parallel()

	t.Run("identical strings score 1", func(t *testing.T) {
		assert.Equal(t, 1.0, grading.Similarity("george washington", "george washington"))
	})

	t.Run("symmetric", func(t *testing.T) {
		a, b := "the quick brown fox", "quick brown foxes"
		assert.Equal(t, grading.Similarity(a, b), grading.Similarity(b, a))
	})

	t.Run("word order insensitive", func(t *testing.T) {
		assert.Equal(t, 1.0, grading.Similarity("washington george", "george washington"))
	})

	t.Run("disjoint strings score 0", func(t *testing.T) {
		assert.Equal(t, 0.0, grading.Similarity("abc", "xyz"))
	})

	t.Run("close strings score high", func(t *testing.T) {
		assert.Greater(t, grading.Similarity("mississippi", "missisippi"), 0.8)
	})

	t.Run("bounded by 0 and 1", func(t *testing.T) {
		s := grading.Similarity("france", "san francisco")
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	})
}

func TestGrader_Grade(t *testing.T) {
	t.Parallel()

	g := grading.NewGrader(0.6)

	clue := domain.Clue{
		ID:       "1",
		Question: "First president of the United States",
		Answer:   "george washington",
		Value:    200,
	}

	t.Run("answer graded against itself is exact", func(t *testing.T) {
		res := g.Grade(clue, clue.Answer)
		require.True(t, res.Exact)
		require.True(t, res.Correct)
	})

	t.Run("case and punctuation insensitive", func(t *testing.T) {
		res := g.Grade(clue, "George Washington!")
		require.True(t, res.Exact)
	})

	t.Run("interrogative wrapper is stripped", func(t *testing.T) {
		res := g.Grade(clue, "Who is George Washington?")
		require.True(t, res.Exact)
	})

	t.Run("close match is correct but not exact", func(t *testing.T) {
		res := g.Grade(clue, "george washingtun")
		require.True(t, res.Correct)
		require.True(t, res.Close)
		require.False(t, res.Exact)
	})

	t.Run("wrong answer is incorrect", func(t *testing.T) {
		res := g.Grade(clue, "thomas jefferson")
		require.False(t, res.Correct)
	})

	t.Run("alternate answer is exact", func(t *testing.T) {
		withAlt := clue
		withAlt.Alternate = "washington"
		res := g.Grade(withAlt, "what is washington")
		require.True(t, res.Exact)
	})

	// Stored answers keep hyphens and slashes that guess normalization
	// strips; grading must not punish a player for typing them.
	t.Run("hyphenated answer graded against itself is exact", func(t *testing.T) {
		hyphenated := domain.Clue{ID: "2", Question: "q", Answer: "7-up", Value: 200}
		res := g.Grade(hyphenated, hyphenated.Answer)
		require.True(t, res.Exact)
		require.True(t, res.Correct)
	})

	t.Run("slashed answer graded against itself is exact", func(t *testing.T) {
		slashed := domain.Clue{ID: "3", Question: "q", Answer: "ac/dc", Value: 200}
		res := g.Grade(slashed, "AC/DC")
		require.True(t, res.Exact)
	})

	t.Run("hyphenated alternate matches without the hyphen", func(t *testing.T) {
		withAlt := clue
		withAlt.Alternate = "walkie-talkie"
		res := g.Grade(withAlt, "walkie talkie")
		require.False(t, res.Exact)
		require.True(t, res.Correct)
	})
}

func TestCleanClue(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		raw    domain.RawClue
		assert func(t *testing.T, clue *domain.Clue)
	}{
		"strips html and lowers": {
			raw: domain.RawClue{ID: "1", Question: "q", Answer: "<i>The Great Gatsby</i>", Value: 400},
			assert: func(t *testing.T, clue *domain.Clue) {
				require.NotNil(t, clue)
				assert.Equal(t, "great gatsby", clue.Answer)
				assert.Equal(t, int64(400), clue.Value)
			},
		},

		"defaults missing value to 200": {
			raw: domain.RawClue{ID: "1", Question: "q", Answer: "paris"},
			assert: func(t *testing.T, clue *domain.Clue) {
				require.NotNil(t, clue)
				assert.Equal(t, int64(200), clue.Value)
			},
		},

		"trailing parenthetical becomes alternate": {
			raw: domain.RawClue{ID: "1", Question: "q", Answer: "William Shakespeare (or the Bard)", Value: 200},
			assert: func(t *testing.T, clue *domain.Clue) {
				require.NotNil(t, clue)
				assert.Equal(t, "william shakespeare", clue.Answer)
				assert.Equal(t, "the bard", clue.Alternate)
			},
		},

		"leading parenthetical keeps full phrasing as alternate": {
			raw: domain.RawClue{ID: "1", Question: "q", Answer: "(George) Washington", Value: 200},
			assert: func(t *testing.T, clue *domain.Clue) {
				require.NotNil(t, clue)
				assert.Equal(t, "washington", clue.Answer)
				assert.Equal(t, "george washington", clue.Alternate)
			},
		},

		"empty answer is rejected": {
			raw: domain.RawClue{ID: "1", Question: "q", Answer: "<b></b>", Value: 200},
			assert: func(t *testing.T, clue *domain.Clue) {
				require.Nil(t, clue)
			},
		},

		"empty question is rejected": {
			raw: domain.RawClue{ID: "1", Question: "   ", Answer: "paris", Value: 200},
			assert: func(t *testing.T, clue *domain.Clue) {
				require.Nil(t, clue)
			},
		},

		"invalid-flagged clue is rejected": {
			raw: domain.RawClue{ID: "1", Question: "q", Answer: "paris", Value: 200, Invalid: true},
			assert: func(t *testing.T, clue *domain.Clue) {
				require.Nil(t, clue)
			},
		},

		"ampersand collapses to and": {
			raw: domain.RawClue{ID: "1", Question: "q", Answer: "Simon & Garfunkel", Value: 200},
			assert: func(t *testing.T, clue *domain.Clue) {
				require.NotNil(t, clue)
				assert.Equal(t, "simon and garfunkel", clue.Answer)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			tt.assert(t, grading.CleanClue(tt.raw))
		})
	}
}
