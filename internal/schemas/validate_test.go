package schemas

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/mp-harvester/internal/types"
)

func sampleSet() *types.SearchResultSet {
	return &types.SearchResultSet{
		ID:             "4f7a",
		Query:          "Gopher Weekly",
		Account:        &types.Account{Nickname: "Gopher Weekly", FakeID: "FAKE1"},
		RequestedPages: 2,
		FetchedPages:   1,
		Articles: []types.ArticleRecord{{
			Title:       "Understanding the Go scheduler",
			URL:         "https://mp.weixin.qq.com/s/abc",
			PublishedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			Body:        "![](images/1.png)",
			Images:      []types.Image{{ID: "1", URL: "https://mmbiz.qpic.cn/a/0", LocalName: "images/1.png"}},
		}},
		Failures:   []types.PageFailure{{Page: 1, Kind: types.FailureTransient, Error: "timeout"}},
		StartedAt:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2024, 3, 1, 0, 1, 0, 0, time.UTC),
	}
}

func TestAllSchemas_Compile(t *testing.T) {
	for _, name := range []string{Article, Accounts, SearchResult, SearchResults} {
		t.Run(name, func(t *testing.T) {
			_, err := schemaFor(name)
			assert.NoError(t, err)
		})
	}
}

func TestValidateValue_SearchResult(t *testing.T) {
	assert.NoError(t, ValidateValue(SearchResult, sampleSet()))
	assert.NoError(t, ValidateValue(SearchResults, []*types.SearchResultSet{sampleSet()}))
	assert.NoError(t, ValidateValue(Article, sampleSet().Articles[0]))
	assert.NoError(t, ValidateValue(Accounts, []types.Account{{Nickname: "n", FakeID: "f"}}))
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		schema string
		doc    string
		field  string
	}{
		{"missing field", Article, `{"title":"t","published_at":"2024-03-01T00:00:00Z","body":"","rank":0,"empty":true,"degraded":false}`, "(root)"},
		{"wrong type", Article, `{"title":"t","url":"https://x","published_at":"2024-03-01T00:00:00Z","body":"","rank":"first","empty":true,"degraded":false}`, "rank"},
		{"bad failure kind", SearchResult, `{"id":"1","query":"q","requested_pages":1,"fetched_pages":0,"articles":[],"completed":false,"canceled":false,"failures":[{"page":0,"kind":"weird","error":"x"}],"started_at":"2024-03-01T00:00:00Z","finished_at":"2024-03-01T00:00:00Z"}`, "failures.0.kind"},
		{"image outside images dir", Article, `{"title":"t","url":"https://x","published_at":"2024-03-01T00:00:00Z","body":"","rank":0,"empty":false,"degraded":false,"images":[{"id":"1","url":"https://a","local_name":"/tmp/1.png"}]}`, "images.0.local_name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.schema, []byte(tt.doc))
			require.Error(t, err)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			require.NotEmpty(t, verr.Errors)
			fields := make([]string, 0, len(verr.Errors))
			for _, e := range verr.Errors {
				fields = append(fields, e.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestValidate_UnknownSchema(t *testing.T) {
	err := Validate("invoice", []byte(`{}`))
	var lerr *SchemaLoadError
	assert.ErrorAs(t, err, &lerr)
}

func TestValidateFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "result.json")
	data, err := json.Marshal(sampleSet())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	assert.NoError(t, ValidateFile(SearchResult, path))

	err = ValidateFile(SearchResult, filepath.Join(dir, "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
