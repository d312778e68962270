package kit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPDecodeResult holds the decoded request and an optional context enrichment.
type MCPDecodeResult struct {
	Request   any
	EnrichCtx func(context.Context) context.Context
}

// MCPDecoder turns raw tool arguments into an endpoint request.
type MCPDecoder func(*mcp.CallToolRequest) (*MCPDecodeResult, error)

// RegisterMCPTool exposes endpoint as an MCP tool. Calls run with transport
// "mcp" in their context, wrapped by mws (first is outermost). Decode and
// endpoint errors become tool errors so the client sees the message; the
// protocol error return is never used.
func RegisterMCPTool(srv *mcp.Server, tool *mcp.Tool, endpoint Endpoint, decode MCPDecoder, mws ...Middleware) {
	if len(mws) > 0 {
		endpoint = Chain(mws...)(endpoint)
	}
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		decoded, err := decode(req)
		if err != nil {
			return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
		}
		ctx = WithTransport(ctx, "mcp")
		if decoded.EnrichCtx != nil {
			ctx = decoded.EnrichCtx(ctx)
		}

		resp, err := endpoint(ctx, decoded.Request)
		if err != nil {
			return toolError(err), nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return toolError(fmt.Errorf("marshal %s result: %w", tool.Name, err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}

// DecodeArgs returns a decoder that unmarshals the arguments into a fresh
// *T. Absent arguments leave T at its zero value.
func DecodeArgs[T any]() MCPDecoder {
	return func(req *mcp.CallToolRequest) (*MCPDecodeResult, error) {
		var v T
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &v); err != nil {
				return nil, err
			}
		}
		return &MCPDecodeResult{Request: &v}, nil
	}
}
