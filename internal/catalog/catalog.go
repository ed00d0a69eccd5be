// Package catalog supplies raw clue records. Cleaning is not done here;
// the game core owns it because it affects grading.
package catalog

import (
	"context"

	"github.com/victornm/quizparty/internal/domain"
)

// Source is a pure, retryable pull of raw clue records.
type Source interface {
	// FetchByCategory returns every known clue of one category.
	FetchByCategory(ctx context.Context, categoryID string) ([]domain.RawClue, error)
	// FetchRandom returns one random clue.
	FetchRandom(ctx context.Context) (domain.RawClue, error)
	// ListCategoryIDs returns ids of categories holding at least minClues
	// clues, enough to build a board column from.
	ListCategoryIDs(ctx context.Context, minClues int) ([]string, error)
}
