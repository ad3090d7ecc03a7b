package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/clinical-trial-matcher/internal/domain"
	"github.com/clinical-trial-matcher/internal/service"
)

// Tool names exposed to MCP clients.
const (
	ToolTranslateCriteria = "translate_trial_criteria"
	ToolRankPatients      = "rank_patients"
)

// Server exposes trial matching to MCP clients over stdio.
type Server struct {
	config    domain.Config
	matcher   *service.MatcherService
	mcpServer *mcp.Server
	logger    *logrus.Logger
}

// NewServer creates a new MCP server instance
func NewServer(cfg domain.Config, matcher *service.MatcherService, logger *logrus.Logger) (*Server, error) {
	if matcher == nil {
		return nil, fmt.Errorf("matcher service is required")
	}

	serverInfo := &mcp.Implementation{
		Name:    cfg.MCP.ServerName,
		Version: cfg.MCP.ServerVersion,
	}
	if serverInfo.Name == "" {
		serverInfo.Name = "clinical-trial-matcher"
	}
	if serverInfo.Version == "" {
		serverInfo.Version = "v0.1.0"
	}

	server := &Server{
		config:    cfg,
		matcher:   matcher,
		mcpServer: mcp.NewServer(serverInfo, nil),
		logger:    logger,
	}

	server.registerTools()

	return server, nil
}

// Start runs the server on stdin/stdout until ctx is cancelled or the client disconnects.
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithField("tools", []string{ToolTranslateCriteria, ToolRankPatients}).Info("Starting MCP server on stdio")

	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: ToolTranslateCriteria,
		Description: "Translate a free-text clinical trial description into weighted inclusion " +
			"and exclusion rules (age, gender, medications, preexisting conditions).",
	}, s.handleTranslateCriteria)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: ToolRankPatients,
		Description: "Score and rank the patients of a CSV or SQLite table against a trial, given " +
			"either a free-text description or a rule document. Excluded patients score 0.",
	}, s.handleRankPatients)

	s.logger.WithField("tool_count", 2).Debug("Registered MCP tools")
}
