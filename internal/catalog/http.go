package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/victornm/quizparty/internal/domain"
	"github.com/victornm/quizparty/internal/errors"
)

const (
	defaultRetries  = 2
	categoryPage    = 100
	maxCategoryScan = 25000
)

type HTTPConfig struct {
	BaseURL string
	Client  *http.Client
	Retries int
}

// HTTPSource pulls clues from a jService-compatible REST API.
type HTTPSource struct {
	base    string
	client  *http.Client
	retries int
}

func NewHTTPSource(c HTTPConfig) *HTTPSource {
	if c.Client == nil {
		c.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if c.Retries <= 0 {
		c.Retries = defaultRetries
	}
	return &HTTPSource{
		base:    c.BaseURL,
		client:  c.Client,
		retries: c.Retries,
	}
}

type wireCategory struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	CluesCount int    `json:"clues_count"`
}

type wireClue struct {
	ID           int64        `json:"id"`
	Question     string       `json:"question"`
	Answer       string       `json:"answer"`
	Value        int64        `json:"value"`
	AirDate      string       `json:"airdate"`
	Category     wireCategory `json:"category"`
	InvalidCount int          `json:"invalid_count"`
}

func (c wireClue) raw() domain.RawClue {
	return domain.RawClue{
		ID:            strconv.FormatInt(c.ID, 10),
		Question:      c.Question,
		Answer:        c.Answer,
		Value:         c.Value,
		AirDate:       c.AirDate,
		CategoryID:    strconv.FormatInt(c.Category.ID, 10),
		CategoryTitle: c.Category.Title,
		Invalid:       c.InvalidCount > 0,
	}
}

func (s *HTTPSource) FetchByCategory(ctx context.Context, categoryID string) ([]domain.RawClue, error) {
	var clues []wireClue
	err := s.getJSON(ctx, "/api/clues?category="+url.QueryEscape(categoryID), &clues)
	if err != nil {
		return nil, err
	}

	raws := make([]domain.RawClue, 0, len(clues))
	for _, c := range clues {
		raws = append(raws, c.raw())
	}
	return raws, nil
}

func (s *HTTPSource) FetchRandom(ctx context.Context) (domain.RawClue, error) {
	var clues []wireClue
	if err := s.getJSON(ctx, "/api/random", &clues); err != nil {
		return domain.RawClue{}, err
	}
	if len(clues) == 0 {
		return domain.RawClue{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("catalog: no random clue returned"))
	}
	return clues[0].raw(), nil
}

func (s *HTTPSource) ListCategoryIDs(ctx context.Context, minClues int) ([]string, error) {
	var ids []string
	for offset := 0; offset < maxCategoryScan; offset += categoryPage {
		var page []wireCategory
		path := fmt.Sprintf("/api/categories?count=%d&offset=%d", categoryPage, offset)
		if err := s.getJSON(ctx, path, &page); err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		for _, c := range page {
			if c.CluesCount >= minClues {
				ids = append(ids, strconv.FormatInt(c.ID, 10))
			}
		}
	}
	return ids, nil
}

func (s *HTTPSource) getJSON(ctx context.Context, path string, out any) error {
	var lastErr error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errors.Unavailable(ctx.Err())
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		if lastErr = s.getJSONOnce(ctx, path, out); lastErr == nil {
			return nil
		}
	}
	return errors.Unavailable(fmt.Errorf("catalog: get %s: %w", path, lastErr))
}

func (s *HTTPSource) getJSONOnce(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+path, nil)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
