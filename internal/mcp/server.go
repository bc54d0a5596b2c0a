// Package mcp serves the catalog search as a Model Context Protocol tool over a line-delimited
// JSON-RPC 2.0 stream (stdio).
//
// Supported methods:
//   - initialize
//   - ping
//   - tools/list
//   - tools/call (search_images)
//
// Notifications (requests without an id) are accepted and never answered.
package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/mechlib/catalog/internal/api/validation"
	"github.com/mechlib/catalog/internal/models"
)

const (
	protocolVersion = "2024-11-05"
	maxMessageSize  = 1 << 20

	// SearchToolName is the single tool this server exposes.
	SearchToolName = "search_images"
)

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

// Searcher runs catalog searches.
type Searcher interface {
	Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error)
}

// Server answers MCP requests for one client stream.
type Server struct {
	searcher Searcher
	name     string
	version  string
	logger   *slog.Logger
}

// ServerParams configures Server. Logger must not write to the protocol stream.
type ServerParams struct {
	Searcher Searcher
	Name     string
	Version  string
	Logger   *slog.Logger
}

// NewServer creates a Server.
func NewServer(p ServerParams) *Server {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	name := p.Name
	if name == "" {
		name = "mechlib"
	}

	version := p.Version
	if version == "" {
		version = "1.0.0"
	}

	return &Server{searcher: p.Searcher, name: name, version: version, logger: logger}
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// Tool is an MCP tool definition.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Content is one item of a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallToolResult is the tools/call result.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Serve reads requests from r and writes responses to w until r is exhausted or ctx ends.
// Requests are handled one at a time, in order.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)

	enc := json.NewEncoder(w)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err //nolint:wrapcheck // context cancellation
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		resp := s.handle(ctx, line)
		if resp == nil {
			continue
		}

		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read request: %w", err)
	}

	return nil
}

// handle returns nil for notifications.
func (s *Server) handle(ctx context.Context, line []byte) *response {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		return errorResponse(json.RawMessage("null"), codeParseError, "Parse error", err.Error())
	}

	notification := len(req.ID) == 0

	if req.JSONRPC != "2.0" || req.Method == "" {
		if notification {
			return nil
		}

		return errorResponse(req.ID, codeInvalidRequest, "Invalid Request", "")
	}

	var (
		result any
		rpcErr *rpcError
	)

	switch req.Method {
	case "initialize":
		result = map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{"listChanged": false}},
			"serverInfo":      map[string]any{"name": s.name, "version": s.version},
		}
	case "ping":
		result = struct{}{}
	case "tools/list":
		result = map[string]any{"tools": []Tool{searchTool()}}
	case "tools/call":
		result, rpcErr = s.callTool(ctx, req.Params)
	default:
		if notification {
			return nil
		}

		rpcErr = &rpcError{Code: codeMethodNotFound, Message: "Method not found", Data: req.Method}
	}

	if notification {
		return nil
	}

	if rpcErr != nil {
		return &response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
	}

	return &response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

// callTool reports search failures inside the tool result so the model can read them;
// malformed calls are protocol errors.
func (s *Server) callTool(ctx context.Context, raw json.RawMessage) (any, *rpcError) {
	var params callToolParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "Invalid params", Data: err.Error()}
	}

	if params.Name != SearchToolName {
		return nil, &rpcError{Code: codeInvalidParams, Message: "Unknown tool", Data: params.Name}
	}

	var args models.SearchRequest

	if len(params.Arguments) > 0 {
		dec := json.NewDecoder(bytes.NewReader(params.Arguments))
		dec.DisallowUnknownFields()

		if err := dec.Decode(&args); err != nil {
			return toolError("invalid arguments: " + err.Error()), nil
		}
	}

	if err := validation.ValidateStruct(&args); err != nil {
		return toolError(err.Error()), nil
	}

	resp, err := s.searcher.Search(ctx, args)
	if err != nil {
		s.logger.WarnContext(ctx, "mcp search failed", "query", args.Query, "error", err)

		return toolError(err.Error()), nil
	}

	return searchResult(resp), nil
}

func toolError(msg string) CallToolResult {
	return CallToolResult{Content: []Content{{Type: "text", Text: msg}}, IsError: true}
}

// searchResult renders the message (when any) as text and the full response as JSON.
func searchResult(resp *models.SearchResponse) CallToolResult {
	var content []Content

	if resp.Message != "" {
		content = append(content, Content{Type: "text", Text: resp.Message})
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return toolError("encode search response: " + err.Error())
	}

	return CallToolResult{Content: append(content, Content{Type: "text", Text: string(data)})}
}

func errorResponse(id json.RawMessage, code int, message, data string) *response {
	return &response{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message, Data: data}}
}

func searchTool() Tool {
	return Tool{
		Name: SearchToolName,
		Description: "Search the mechlib image catalog with a natural-language description. " +
			"Results carry presigned image URLs and their tags, ordered by cosine distance " +
			"(0 identical, 2 opposite).",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "What the images should show."},
    "k": {"type": "integer", "minimum": 1, "maximum": 50, "default": 3, "description": "Maximum results."},
    "score_threshold": {"type": "number", "minimum": 0, "maximum": 2, "default": 0.5,
      "description": "Maximum distance kept. 0.3-0.5 is strict, 1.0 is lenient."},
    "use_hybrid": {"type": "boolean", "default": true, "description": "Boost semantic hits that also match keywords."},
    "keyword_weight": {"type": "number", "minimum": 0, "maximum": 1, "default": 0.5,
      "description": "Accepted for compatibility; ranking uses a fixed keyword boost."}
  },
  "required": ["query"],
  "additionalProperties": false
}`),
	}
}
