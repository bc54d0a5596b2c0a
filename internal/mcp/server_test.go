package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mechlib/catalog/internal/apperrors"
	"github.com/mechlib/catalog/internal/models"
)

type mockSearcher struct {
	searchFunc func(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error)
	calls      int
}

func (m *mockSearcher) Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
	m.calls++

	if m.searchFunc != nil {
		return m.searchFunc(ctx, req)
	}

	return &models.SearchResponse{Results: []models.SearchResultItem{}}, nil
}

type rpcReply struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func serve(t *testing.T, searcher Searcher, lines ...string) []rpcReply {
	t.Helper()

	var out bytes.Buffer

	srv := NewServer(ServerParams{Searcher: searcher})
	require.NoError(t, srv.Serve(context.Background(), strings.NewReader(strings.Join(lines, "\n")), &out))

	var replies []rpcReply

	dec := json.NewDecoder(&out)
	for dec.More() {
		var r rpcReply
		require.NoError(t, dec.Decode(&r))
		replies = append(replies, r)
	}

	return replies
}

func decodeToolResult(t *testing.T, raw json.RawMessage) CallToolResult {
	t.Helper()

	var res CallToolResult
	require.NoError(t, json.Unmarshal(raw, &res))

	return res
}

func TestServer_Handshake(t *testing.T) {
	replies := serve(t, &mockSearcher{},
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05"}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":"p","method":"ping"}`,
	)
	require.Len(t, replies, 3)

	var init struct {
		ProtocolVersion string `json:"protocolVersion"`
		ServerInfo      struct {
			Name string `json:"name"`
		} `json:"serverInfo"`
	}
	require.NoError(t, json.Unmarshal(replies[0].Result, &init))
	assert.Equal(t, "2024-11-05", init.ProtocolVersion)
	assert.Equal(t, "mechlib", init.ServerInfo.Name)

	var list struct {
		Tools []Tool `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(replies[1].Result, &list))
	require.Len(t, list.Tools, 1)
	assert.Equal(t, SearchToolName, list.Tools[0].Name)
	assert.True(t, json.Valid(list.Tools[0].InputSchema))

	assert.JSONEq(t, `"p"`, string(replies[2].ID))
	assert.JSONEq(t, `{}`, string(replies[2].Result))
}

func TestServer_SearchTool(t *testing.T) {
	t.Run("passes arguments through and returns the response", func(t *testing.T) {
		var got models.SearchRequest

		searcher := &mockSearcher{
			searchFunc: func(_ context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
				got = req

				return &models.SearchResponse{
					Results: []models.SearchResultItem{{
						URL: "https://signed.example/gear.png", S3URI: "s3://mechlib/gear.png",
						ImageFields: models.ImageFields{Filename: "gear.png"}, DistanceScore: 0.2,
					}},
					TotalCandidates: 3,
					FilteredCount:   1,
				}, nil
			},
		}

		replies := serve(t, searcher,
			`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"search_images",`+
				`"arguments":{"query":"spur gear","k":5,"score_threshold":0.8,"use_hybrid":false}}}`)
		require.Len(t, replies, 1)
		require.Nil(t, replies[0].Error)

		assert.Equal(t, "spur gear", got.Query)
		assert.Equal(t, 5, got.K)
		require.NotNil(t, got.ScoreThreshold)
		assert.InDelta(t, 0.8, *got.ScoreThreshold, 1e-9)
		require.NotNil(t, got.UseHybrid)
		assert.False(t, *got.UseHybrid)

		res := decodeToolResult(t, replies[0].Result)
		assert.False(t, res.IsError)
		require.Len(t, res.Content, 1)

		var body models.SearchResponse
		require.NoError(t, json.Unmarshal([]byte(res.Content[0].Text), &body))
		require.Len(t, body.Results, 1)
		assert.Equal(t, "s3://mechlib/gear.png", body.Results[0].S3URI)
	})

	t.Run("message is surfaced as its own text item", func(t *testing.T) {
		searcher := &mockSearcher{
			searchFunc: func(context.Context, models.SearchRequest) (*models.SearchResponse, error) {
				return &models.SearchResponse{Results: []models.SearchResultItem{}, Message: "No images found matching your query."}, nil
			},
		}

		replies := serve(t, searcher,
			`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"search_images","arguments":{"query":"cam"}}}`)

		res := decodeToolResult(t, replies[0].Result)
		require.Len(t, res.Content, 2)
		assert.Equal(t, "No images found matching your query.", res.Content[0].Text)
	})

	t.Run("invalid arguments are tool errors and skip the search", func(t *testing.T) {
		searcher := &mockSearcher{}

		replies := serve(t, searcher,
			`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"search_images","arguments":{"query":""}}}`,
			`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"search_images","arguments":{"query":"x","bogus":1}}}`,
			`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"search_images","arguments":{"query":"x","score_threshold":3}}}`,
		)
		require.Len(t, replies, 3)

		for _, r := range replies {
			assert.Nil(t, r.Error)
			assert.True(t, decodeToolResult(t, r.Result).IsError)
		}

		assert.Zero(t, searcher.calls)
	})

	t.Run("search failures are tool errors", func(t *testing.T) {
		searcher := &mockSearcher{
			searchFunc: func(context.Context, models.SearchRequest) (*models.SearchResponse, error) {
				return nil, apperrors.NewExternalServiceError(apperrors.StepEmbed, errors.New("quota"))
			},
		}

		replies := serve(t, searcher,
			`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"search_images","arguments":{"query":"gear"}}}`)

		res := decodeToolResult(t, replies[0].Result)
		assert.True(t, res.IsError)
		assert.Contains(t, res.Content[0].Text, "embed")
	})
}

func TestServer_ProtocolErrors(t *testing.T) {
	replies := serve(t, &mockSearcher{},
		`{not json`,
		`{"jsonrpc":"2.0","id":1,"method":"resources/list"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"delete_everything"}}`,
		`{"jsonrpc":"1.0","id":3,"method":"ping"}`,
		`{"jsonrpc":"2.0","method":"unknown/notification"}`,
	)
	require.Len(t, replies, 4)

	assert.Equal(t, codeParseError, replies[0].Error.Code)
	assert.JSONEq(t, `null`, string(replies[0].ID))
	assert.Equal(t, codeMethodNotFound, replies[1].Error.Code)
	assert.Equal(t, codeInvalidParams, replies[2].Error.Code)
	assert.Equal(t, codeInvalidRequest, replies[3].Error.Code)
}

func TestServer_StopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer

	err := NewServer(ServerParams{Searcher: &mockSearcher{}}).
		Serve(ctx, strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`), &out)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, out.Len())
}
