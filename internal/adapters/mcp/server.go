package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Maheswari-23/EVAssist/internal/core/domain"
	"github.com/Maheswari-23/EVAssist/internal/core/ports"
)

const (
	ToolAskAdvisor     = "ask_ev_advisor"
	ToolReindexReviews = "reindex_reviews"
)

// Tools exposes the advisor and re-indexing as MCP tools.
type Tools struct {
	query  ports.QueryService
	ingest ports.IngestionService
	logger *slog.Logger
}

func NewTools(query ports.QueryService, ingest ports.IngestionService, logger *slog.Logger) *Tools {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tools{query: query, ingest: ingest, logger: logger}
}

func (t *Tools) Server(version string) *server.MCPServer {
	srv := server.NewMCPServer("evassist", version, server.WithToolCapabilities(false))
	srv.AddTool(
		mcp.NewTool(ToolAskAdvisor,
			mcp.WithDescription("Recommend electric vehicles from the catalog and owner reviews. "+
				"Budgets such as \"under 10 lakhs\" filter by price in INR."),
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("Natural-language question about EVs"),
			),
		),
		t.handleAsk,
	)
	srv.AddTool(
		mcp.NewTool(ToolReindexReviews,
			mcp.WithDescription("Re-embed every review and upsert it into the vector index. Returns the ingestion report."),
		),
		t.handleReindex,
	)
	return srv
}

func (t *Tools) handleAsk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	answer, err := t.query.Answer(ctx, query)
	if err != nil {
		t.logger.Warn("mcp_tool_failed", "tool", ToolAskAdvisor, "error", err)
		return mcp.NewToolResultError(toolErrorMessage(err)), nil
	}

	evs, err := json.Marshal(answer.EVs)
	if err != nil {
		return nil, fmt.Errorf("encode evs: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(answer.Text),
			mcp.NewTextContent(string(evs)),
		},
	}, nil
}

func (t *Tools) handleReindex(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := t.ingest.Ingest(ctx)
	if err != nil {
		t.logger.Warn("mcp_tool_failed", "tool", ToolReindexReviews, "error", err)
		return mcp.NewToolResultError(toolErrorMessage(err)), nil
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return mcp.NewToolResultText(string(payload)), nil
}

func toolErrorMessage(err error) string {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return err.Error()
	case domain.IsKind(err, domain.ErrStoreUnavailable):
		return "catalog store unavailable"
	case domain.IsKind(err, domain.ErrGenerationUnavailable):
		return "answer generation failed"
	case domain.IsKind(err, domain.ErrIndexUnavailable):
		return "vector index unavailable"
	case domain.IsKind(err, domain.ErrEmbeddingUnavailable):
		return "embedding service unavailable"
	default:
		return "internal error"
	}
}
