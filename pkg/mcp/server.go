// Package mcp exposes the conversion engine as a Model Context Protocol server
// speaking JSON-RPC 2.0 over stdio.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/polyglot/pkg/batch"
	"github.com/pario-ai/polyglot/pkg/logging"
	"github.com/pario-ai/polyglot/pkg/models"
)

const maxLineBytes = 4 << 20

// Service is the engine surface the tools call into.
type Service interface {
	Submit(ctx context.Context, req models.ConversionRequest) (models.ConversionResult, error)
	SubmitBatch(ctx context.Context, reqs []models.ConversionRequest, limit int, timeout time.Duration) (batch.Report, error)
	ProviderStatus() []models.ProviderStatus
	Stats() models.EngineStats
	CacheStats() models.CacheStats
	ClearCache(expiredOnly bool) (int, error)
	History(ctx context.Context, limit int) ([]models.ConversionRecord, error)
}

// Server handles one stdio session.
type Server struct {
	svc     Service
	version string
	logger  *zap.Logger
}

// New creates a Server.
func New(svc Service, version string, logger *zap.Logger) *Server {
	return &Server{
		svc:     svc,
		version: version,
		logger:  logging.OrNop(logger).Named("mcp"),
	}
}

// Run reads newline-delimited requests from r and writes responses to w
// until r is exhausted or ctx is canceled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.write(w, rpcError(nil, CodeParseError, "parse error"))
			continue
		}
		if req.JSONRPC != jsonRPCVersion {
			s.write(w, rpcError(req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\""))
			continue
		}

		if resp := s.handle(ctx, &req); resp != nil {
			s.write(w, resp)
		}
	}
	return scanner.Err()
}

// handle returns nil for notifications.
func (s *Server) handle(ctx context.Context, req *Request) *Response {
	s.logger.Debug("request", zap.String("method", req.Method))

	switch req.Method {
	case "initialize":
		return result(req.ID, InitializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      ServerInfo{Name: "polyglot", Version: s.version},
			Capabilities:    map[string]any{"tools": map[string]any{}},
		})
	case "notifications/initialized":
		return nil
	case "ping":
		return result(req.ID, map[string]any{})
	case "tools/list":
		return result(req.ID, ToolsListResult{Tools: allTools})
	case "tools/call":
		return s.callTool(ctx, req)
	default:
		return rpcError(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
	}
}

func (s *Server) callTool(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return rpcError(req.ID, CodeInvalidParams, "invalid params")
	}

	handler, ok := toolHandlers[params.Name]
	if !ok {
		return result(req.ID, errorResult(fmt.Sprintf("unknown tool: %s", params.Name)))
	}

	start := time.Now()
	res := handler(ctx, s, params.Arguments)
	s.logger.Info("tool call",
		zap.String("tool", params.Name),
		zap.Bool("error", res.IsError),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result(req.ID, res)
}

func (s *Server) write(w io.Writer, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal response", zap.Error(err))
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		s.logger.Error("write response", zap.Error(err))
	}
}
