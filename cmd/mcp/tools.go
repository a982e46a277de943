package main

import "github.com/mark3labs/mcp-go/mcp"

func askDocsTool() mcp.Tool {
	return mcp.NewTool("ask_docs",
		mcp.WithDescription("Answer a question from the indexed documentation, with sources and a confidence score"),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("Natural-language question"),
		),
		mcp.WithString("project",
			mcp.Description("Restrict retrieval to one documentation project"),
		),
		mcp.WithBoolean("agentic",
			mcp.Description("Run the iterative evaluation loop (default from server config)"),
		),
	)
}

func searchDocsTool() mcp.Tool {
	return mcp.NewTool("search_docs",
		mcp.WithDescription("Hybrid vector and full-text search over indexed documentation chunks"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query"),
		),
		mcp.WithString("project",
			mcp.Description("Restrict results to one documentation project"),
		),
		mcp.WithString("content_type",
			mcp.Description("Filter: prose, code, api-reference"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum results (default: 10, max: 50)"),
		),
	)
}
