package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/mp-harvester/internal/types"
)

func sampleSets() []*types.SearchResultSet {
	published := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	return []*types.SearchResultSet{{
		ID:             "search-1",
		Query:          "golang",
		Account:        &types.Account{Nickname: "Go Weekly", FakeID: "MzA1"},
		RequestedPages: 2,
		FetchedPages:   1,
		Articles: []types.ArticleRecord{
			{
				Title:       "Generics in practice",
				URL:         "https://mp.weixin.qq.com/s/aaa",
				PublishedAt: published,
				Author:      "Gopher",
				Tags:        []string{"go", "generics"},
				Body:        "Type parameters arrived in 1.18.",
			},
			{
				Title:       "Digest only",
				URL:         "https://mp.weixin.qq.com/s/bbb",
				PublishedAt: published,
				Digest:      "A short summary",
				Rank:        1,
			},
		},
		Failures: []types.PageFailure{
			{Page: 1, Kind: types.FailureTransient, Error: "HTTP status 503"},
			{Page: 0, URL: "https://mp.weixin.qq.com/s/ccc", Kind: types.FailureClient, Error: "HTTP status 404"},
		},
		StartedAt:  published,
		FinishedAt: published.Add(time.Minute),
	}}
}

func TestCheckFormat(t *testing.T) {
	assert.NoError(t, checkFormat("json"))
	assert.NoError(t, checkFormat("md"))
	assert.Error(t, checkFormat("csv"))
}

func TestWriteResults_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeResults(&buf, sampleSets(), formatJSON))

	var decoded []types.SearchResultSet
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Len(t, decoded[0].Articles, 2)
	assert.Equal(t, "Go Weekly", decoded[0].Account.Nickname)
}

func TestWriteResults_RejectsInvalidRecords(t *testing.T) {
	sets := sampleSets()
	sets[0].Failures[0].Kind = "mystery"

	var buf bytes.Buffer
	err := writeResults(&buf, sets, formatJSON)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid output")
	assert.Zero(t, buf.Len())
}

func TestWriteResults_Markdown(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeResults(&buf, sampleSets(), formatMarkdown))
	out := buf.String()

	assert.Contains(t, out, "# Go Weekly\n")
	assert.Contains(t, out, "2 articles from 1 of 2 pages.")
	assert.Contains(t, out, "> Failed (transient) page 2: HTTP status 503")
	assert.Contains(t, out, "> Failed (client) https://mp.weixin.qq.com/s/ccc (page 1): HTTP status 404")
	assert.Contains(t, out, "## Generics in practice")
	assert.Contains(t, out, "- Tags: go, generics")
	assert.Contains(t, out, "Type parameters arrived in 1.18.")
	assert.Contains(t, out, "> A short summary")
}

func TestWriteArticle(t *testing.T) {
	a := &sampleSets()[0].Articles[0]

	var md bytes.Buffer
	require.NoError(t, writeArticle(&md, a, formatMarkdown))
	assert.Contains(t, md.String(), "# Generics in practice\n")
	assert.Contains(t, md.String(), "- Author: Gopher")

	var js bytes.Buffer
	require.NoError(t, writeArticle(&js, a, formatJSON))
	assert.Contains(t, js.String(), `"title": "Generics in practice"`)
}

func TestCreateOutput_MakesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out", "results.json")
	f, err := createOutput(path)
	require.NoError(t, err)
	require.NoError(t, writeResults(f, sampleSets(), formatJSON))
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "search-1")
}
