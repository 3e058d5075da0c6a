package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pario-ai/polyglot/pkg/models"
)

type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

var toolHandlers = map[string]toolHandler{
	"polyglot_convert":         handleConvert,
	"polyglot_convert_batch":   handleConvertBatch,
	"polyglot_provider_status": handleProviderStatus,
	"polyglot_stats":           handleStats,
	"polyglot_cache_stats":     handleCacheStats,
	"polyglot_cache_clear":     handleCacheClear,
	"polyglot_history":         handleHistory,
}

var requestSchema = map[string]any{
	"type":     "object",
	"required": []string{"source_code", "source_language", "target_language"},
	"properties": map[string]any{
		"source_code":      map[string]any{"type": "string", "description": "Code to convert"},
		"source_language":  map[string]any{"type": "string", "description": "Language of source_code, e.g. python"},
		"target_language":  map[string]any{"type": "string", "description": "Language to convert into, e.g. javascript"},
		"style":            map[string]any{"type": "string", "enum": []string{"direct", "idiomatic", "modernize", "framework-migration"}},
		"style_guide":      map[string]any{"type": "string", "description": "Named style guide to follow (optional)"},
		"include_comments": map[string]any{"type": "boolean", "description": "Keep explanatory comments"},
	},
}

var allTools = []ToolDefinition{
	{
		Name:        "polyglot_convert",
		Description: "Convert source code to another programming language using the best available AI provider.",
		InputSchema: requestSchema,
	},
	{
		Name:        "polyglot_convert_batch",
		Description: "Convert several snippets concurrently. Results are returned in input order.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"requests"},
			"properties": map[string]any{
				"requests":        map[string]any{"type": "array", "items": requestSchema},
				"max_concurrency": map[string]any{"type": "integer", "description": "Parallel conversions (optional)"},
				"timeout_seconds": map[string]any{"type": "integer", "description": "Overall batch timeout (optional)"},
			},
		},
	},
	{
		Name:        "polyglot_provider_status",
		Description: "Show quota, circuit breaker state and success rate for every provider.",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
	},
	{
		Name:        "polyglot_stats",
		Description: "Show conversion totals and success rate since start.",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
	},
	{
		Name:        "polyglot_cache_stats",
		Description: "Show result cache statistics (entries, hits, misses, hit rate).",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
	},
	{
		Name:        "polyglot_cache_clear",
		Description: "Clear the result cache, or only its expired entries.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"expired_only": map[string]any{"type": "boolean", "description": "Only drop expired entries"},
			},
		},
	},
	{
		Name:        "polyglot_history",
		Description: "List recent conversions with provider, confidence and outcome.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"limit": map[string]any{"type": "integer", "description": "Max records to return (default 20)"},
			},
		},
	},
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}, IsError: true}
}

func handleConvert(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var req models.ConversionRequest
	if err := json.Unmarshal(rawArgs, &req); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	res, err := s.svc.Submit(ctx, req)
	if err != nil {
		return errorResult("Conversion failed: " + err.Error())
	}
	return textResult(formatResult(res))
}

type batchArgs struct {
	Requests       []models.ConversionRequest `json:"requests"`
	MaxConcurrency int                        `json:"max_concurrency"`
	TimeoutSeconds int                        `json:"timeout_seconds"`
}

func handleConvertBatch(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args batchArgs
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	if len(args.Requests) == 0 {
		return errorResult("requests must not be empty")
	}
	rep, err := s.svc.SubmitBatch(ctx, args.Requests, args.MaxConcurrency, time.Duration(args.TimeoutSeconds)*time.Second)
	if err != nil {
		return errorResult("Batch failed: " + err.Error())
	}
	return textResult(formatReport(rep))
}

func handleProviderStatus(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	return textResult(formatProviderStatus(s.svc.ProviderStatus()))
}

func handleStats(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	return textResult(formatStats(s.svc.Stats()))
}

func handleCacheStats(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	return textResult(formatCacheStats(s.svc.CacheStats()))
}

type cacheClearArgs struct {
	ExpiredOnly bool `json:"expired_only"`
}

func handleCacheClear(_ context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args cacheClearArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	n, err := s.svc.ClearCache(args.ExpiredOnly)
	if err != nil {
		return errorResult("Error clearing cache: " + err.Error())
	}
	return textResult(formatCleared(n, args.ExpiredOnly))
}

type historyArgs struct {
	Limit int `json:"limit"`
}

func handleHistory(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	args := historyArgs{Limit: 20}
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	recs, err := s.svc.History(ctx, args.Limit)
	if err != nil {
		return errorResult("Error reading history: " + err.Error())
	}
	return textResult(formatHistory(recs))
}
