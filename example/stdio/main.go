// Command stdio wires an MCP client and server together over in-process
// pipes and walks through the core protocol surface: initialize, tool
// listing and tool invocation.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	mcp "github.com/peerfold/go-mcp"
)

func main() {
	serverReader, clientWriter := io.Pipe()
	clientReader, serverWriter := io.Pipe()

	serverTransport := mcp.NewStdio(serverReader, serverWriter)
	clientTransport := mcp.NewStdio(clientReader, clientWriter)

	srv := mcp.NewServer(mcp.Info{Name: "example-server", Version: "0.1.0"},
		mcp.WithInstructions("Call the echo tool to get your text back."),
	)
	srv.AddTool(mcp.Tool{
		Name:        "echo",
		Description: "Echoes back the text argument.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"text": {"type": "string"}},
			"required": ["text"]
		}`),
	}, func(_ context.Context, args json.RawMessage) (mcp.CallToolResult, error) {
		var params struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(args, &params); err != nil {
			return mcp.CallToolResult{}, err
		}
		return mcp.CallToolResult{
			Content: []mcp.Content{mcp.NewTextContent(params.Text)},
		}, nil
	})

	if err := srv.Serve(serverTransport); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
	defer srv.Shutdown()

	cli := mcp.NewClient(mcp.Info{Name: "example-client", Version: "0.1.0"},
		mcp.WithClientRequestTimeout(10*time.Second),
	)
	if err := cli.Connect(clientTransport); err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	initResult, err := cli.Initialize(ctx)
	if err != nil {
		log.Fatalf("failed to initialize: %v", err)
	}
	fmt.Printf("connected to %s %s\n", initResult.ServerInfo.Name, initResult.ServerInfo.Version)

	tools, err := cli.ListTools(ctx, mcp.ListToolsParams{})
	if err != nil {
		log.Fatalf("failed to list tools: %v", err)
	}
	for _, tool := range tools.Tools {
		fmt.Printf("tool: %s\n", tool.Name)
	}

	result, err := cli.CallTool(ctx, mcp.CallToolParams{
		Name:      "echo",
		Arguments: json.RawMessage(`{"text": "hello over stdio"}`),
	})
	if err != nil {
		log.Fatalf("failed to call tool: %v", err)
	}
	fmt.Printf("echo: %s\n", result.Content[0].Text)
}
