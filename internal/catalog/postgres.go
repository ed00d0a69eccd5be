package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/quizparty/internal/domain"
	"github.com/victornm/quizparty/internal/errors"
)

// PGSource serves clues from the local Postgres catalog, filled by Ingest
// from an upstream source. It keeps games playable when the upstream API
// is down.
type PGSource struct {
	db *pgxpool.Pool
}

func NewPGSource(db *pgxpool.Pool) *PGSource {
	return &PGSource{db: db}
}

const selectClueCols = `clue_id, question, answer, value, air_date, category_id, category_title, daily_double, invalid`

func scanRawClue(r pgx.CollectableRow) (domain.RawClue, error) {
	var c domain.RawClue
	err := r.Scan(&c.ID, &c.Question, &c.Answer, &c.Value, &c.AirDate,
		&c.CategoryID, &c.CategoryTitle, &c.DailyDouble, &c.Invalid)
	return c, err
}

func (s *PGSource) FetchByCategory(ctx context.Context, categoryID string) ([]domain.RawClue, error) {
	stmt := fmt.Sprintf(`SELECT %s FROM clues WHERE category_id = $1 ORDER BY air_date;`, selectClueCols)

	rows, err := s.db.Query(ctx, stmt, categoryID)
	if err != nil {
		return nil, errors.Unavailable(fmt.Errorf("catalog: fetch category %s: %w", categoryID, err))
	}

	return pgx.CollectRows(rows, scanRawClue)
}

func (s *PGSource) FetchRandom(ctx context.Context) (domain.RawClue, error) {
	stmt := fmt.Sprintf(`SELECT %s FROM clues WHERE NOT invalid ORDER BY random() LIMIT 1;`, selectClueCols)

	rows, err := s.db.Query(ctx, stmt)
	if err != nil {
		return domain.RawClue{}, errors.Unavailable(fmt.Errorf("catalog: fetch random: %w", err))
	}

	c, err := pgx.CollectOneRow(rows, scanRawClue)
	if err == pgx.ErrNoRows {
		return domain.RawClue{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("catalog: empty"))
	}
	return c, err
}

func (s *PGSource) ListCategoryIDs(ctx context.Context, minClues int) ([]string, error) {
	const stmt = `
SELECT category_id
FROM clues
WHERE NOT invalid
GROUP BY category_id
HAVING COUNT(*) >= $1;`

	rows, err := s.db.Query(ctx, stmt, minClues)
	if err != nil {
		return nil, errors.Unavailable(fmt.Errorf("catalog: list categories: %w", err))
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (string, error) {
		var id string
		err := r.Scan(&id)
		return id, err
	})
}

// Ingest upserts raw clues pulled from another source.
func (s *PGSource) Ingest(ctx context.Context, raws []domain.RawClue) error {
	const stmt = `
INSERT INTO clues (clue_id, question, answer, value, air_date, category_id, category_title, daily_double, invalid)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (clue_id) DO UPDATE SET
	question = EXCLUDED.question,
	answer = EXCLUDED.answer,
	value = EXCLUDED.value,
	invalid = EXCLUDED.invalid;`

	batch := new(pgx.Batch)
	for _, c := range raws {
		batch.Queue(stmt, c.ID, c.Question, c.Answer, c.Value, c.AirDate,
			c.CategoryID, c.CategoryTitle, c.DailyDouble, c.Invalid)
	}

	if err := s.db.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Unavailable(fmt.Errorf("catalog: ingest %d clues: %w", len(raws), err))
	}
	return nil
}
