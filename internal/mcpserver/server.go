// Package mcpserver exposes document selection and tree search as MCP
// tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dgallion1/pageindex/internal/directory"
	"github.com/dgallion1/pageindex/internal/errs"
	"github.com/dgallion1/pageindex/internal/retrieval"
	"github.com/dgallion1/pageindex/internal/selector"
)

// Config holds MCP server configuration.
type Config struct {
	Name    string
	Version string
}

// Lister returns the indexed documents.
type Lister interface {
	Entries() []directory.Entry
}

// Server wraps the MCP server around the retrieval engine.
type Server struct {
	mcpServer *server.MCPServer
	engine    *retrieval.Engine
	docs      Lister
	log       *slog.Logger
}

type documentSearchResult struct {
	RewriteQuery   string   `json:"rewrite_query"`
	RelevantDocIDs []string `json:"relevant_doc_ids"`
}

type chunk struct {
	NodeID string   `json:"node_id"`
	Title  string   `json:"title"`
	Path   []string `json:"path,omitempty"`
	Text   string   `json:"text"`
}

type treeSearchResult struct {
	DocID   string  `json:"doc_id"`
	DocName string  `json:"doc_name"`
	Chunks  []chunk `json:"chunks"`
	Error   string  `json:"error,omitempty"`
}

func NewServer(cfg Config, engine *retrieval.Engine, docs Lister, log *slog.Logger) *Server {
	mcpServer := server.NewMCPServer(
		cfg.Name,
		cfg.Version,
		server.WithToolCapabilities(true),
	)
	s := &Server{mcpServer: mcpServer, engine: engine, docs: docs, log: log}

	mcpServer.AddTool(mcp.NewTool("document_search",
		mcp.WithDescription("Rewrite a question into a search query and pick the indexed documents most likely to answer it. Call tree_search next with the returned values."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The user's question"),
		),
		mcp.WithNumber("k",
			mcp.Description(fmt.Sprintf("Maximum number of documents to return (default: %d)", selector.DefaultMaxDocuments)),
		),
	), s.documentSearchHandler)

	mcpServer.AddTool(mcp.NewTool("tree_search",
		mcp.WithDescription("Search the table-of-contents trees of the given documents and return the text of the relevant sections."),
		mcp.WithString("rewrite_query",
			mcp.Required(),
			mcp.Description("The rewritten query returned by document_search"),
		),
		mcp.WithArray("doc_ids",
			mcp.Required(),
			mcp.Description("Document ids returned by document_search"),
			mcp.WithStringItems(),
		),
	), s.treeSearchHandler)

	mcpServer.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List every indexed document with its id, name and description."),
	), s.listDocumentsHandler)

	return s
}

func (s *Server) documentSearchHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil || query == "" {
		return mcp.NewToolResultError("query parameter is required"), nil
	}
	k := req.GetInt("k", selector.DefaultMaxDocuments)

	sel, err := s.engine.SelectDocuments(ctx, query, k)
	if err != nil {
		s.log.Error("document_search failed", "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("document search failed: %s", errs.UserMessage(err))), nil
	}
	return jsonResult(documentSearchResult{RewriteQuery: sel.RewrittenQuery, RelevantDocIDs: sel.DocIDs})
}

func (s *Server) treeSearchHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("rewrite_query")
	if err != nil || query == "" {
		return mcp.NewToolResultError("rewrite_query parameter is required"), nil
	}
	docIDs := req.GetStringSlice("doc_ids", nil)
	if len(docIDs) == 0 {
		return mcp.NewToolResultError("doc_ids parameter is required"), nil
	}

	res := s.engine.SearchTrees(ctx, query, docIDs)
	out := make([]treeSearchResult, 0, len(res.Documents)+len(res.Errors))
	for _, d := range res.Documents {
		r := treeSearchResult{DocID: d.DocID, DocName: d.DocName, Chunks: []chunk{}}
		for _, h := range d.Hits {
			r.Chunks = append(r.Chunks, chunk{NodeID: h.NodeID, Title: h.Title, Path: h.Path, Text: h.Text})
		}
		out = append(out, r)
	}
	for _, e := range res.Errors {
		out = append(out, treeSearchResult{DocID: e.DocID, Chunks: []chunk{}, Error: e.Message})
	}
	return jsonResult(out)
}

func (s *Server) listDocumentsHandler(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries := s.docs.Entries()
	if entries == nil {
		entries = []directory.Entry{}
	}
	return jsonResult(entries)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	result, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(result)), nil
}

// ServeStdio starts the MCP server using stdio transport.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
