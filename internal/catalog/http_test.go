package catalog_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/victornm/quizparty/internal/catalog"
	"github.com/victornm/quizparty/internal/errors"
)

func newSource(t *testing.T, h http.Handler) *catalog.HTTPSource {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return catalog.NewHTTPSource(catalog.HTTPConfig{BaseURL: srv.URL, Retries: 1})
}

func TestHTTPSource_FetchByCategory(t *testing.T) {
	t.Parallel()

	src := newSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/clues", r.URL.Path)
		require.Equal(t, "42", r.URL.Query().Get("category"))
		json.NewEncoder(w).Encode([]map[string]any{
			{
				"id":       7001,
				"question": "First president of the United States",
				"answer":   "George Washington",
				"value":    400,
				"airdate":  "2004-12-31T12:00:00.000Z",
				"category": map[string]any{"id": 42, "title": "PRESIDENTS"},
			},
			{
				"id":            7002,
				"question":      "Broken clue",
				"answer":        "=",
				"invalid_count": 3,
				"category":      map[string]any{"id": 42, "title": "PRESIDENTS"},
			},
		})
	}))

	raws, err := src.FetchByCategory(context.Background(), "42")
	require.NoError(t, err)
	require.Len(t, raws, 2)

	require.Equal(t, "7001", raws[0].ID)
	require.Equal(t, "42", raws[0].CategoryID)
	require.Equal(t, "PRESIDENTS", raws[0].CategoryTitle)
	require.EqualValues(t, 400, raws[0].Value)
	require.False(t, raws[0].Invalid)

	require.True(t, raws[1].Invalid, "invalid_count > 0 flags the clue")
}

func TestHTTPSource_FetchRandom(t *testing.T) {
	t.Parallel()

	t.Run("returns the first clue", func(t *testing.T) {
		src := newSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/api/random", r.URL.Path)
			json.NewEncoder(w).Encode([]map[string]any{
				{"id": 1, "question": "q", "answer": "a", "value": 200},
			})
		}))

		raw, err := src.FetchRandom(context.Background())
		require.NoError(t, err)
		require.Equal(t, "1", raw.ID)
	})

	t.Run("empty reply is not found", func(t *testing.T) {
		src := newSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode([]map[string]any{})
		}))

		_, err := src.FetchRandom(context.Background())
		require.True(t, errors.IsCode(err, errors.CodeNotFound))
	})
}

func TestHTTPSource_ListCategoryIDs(t *testing.T) {
	t.Parallel()

	src := newSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("offset") != "0" {
			json.NewEncoder(w).Encode([]map[string]any{})
			return
		}
		json.NewEncoder(w).Encode([]map[string]any{
			{"id": 1, "title": "BIG", "clues_count": 50},
			{"id": 2, "title": "SMALL", "clues_count": 2},
		})
	}))

	ids, err := src.ListCategoryIDs(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, []string{"1"}, ids, "thin categories are filtered out")
}

func TestHTTPSource_Retries(t *testing.T) {
	t.Parallel()

	t.Run("recovers from a transient failure", func(t *testing.T) {
		var hits atomic.Int64
		src := newSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hits.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			json.NewEncoder(w).Encode([]map[string]any{
				{"id": 1, "question": "q", "answer": "a"},
			})
		}))

		raw, err := src.FetchRandom(context.Background())
		require.NoError(t, err)
		require.Equal(t, "1", raw.ID)
		require.EqualValues(t, 2, hits.Load())
	})

	t.Run("persistent failure surfaces as unavailable", func(t *testing.T) {
		src := newSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))

		_, err := src.FetchRandom(context.Background())
		require.True(t, errors.IsCode(err, errors.CodeUnavailable))
	})
}
