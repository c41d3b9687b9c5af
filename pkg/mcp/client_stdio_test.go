// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"os"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/mathqa/pkg/index"
)

const mcpStdioHelperEnv = "MATHQA_MCP_STDIO_HELPER"

func TestHelperMCPStdioServer(t *testing.T) {
	if os.Getenv(mcpStdioHelperEnv) != "1" {
		return
	}
	srv := NewServer("test-stdio", "1.0.0", &stubSearcher{results: sampleResults()}, nil, nil)
	if err := srv.ServeStdio(); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

func TestClient_Stdio_ListToolsAndCall(t *testing.T) {
	t.Setenv(mcpStdioHelperEnv, "1")

	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}

	client, err := NewStdioClient(context.Background(), exe, []string{"-test.run", "TestHelperMCPStdioServer"}, mcpgo.LATEST_PROTOCOL_VERSION)
	if err != nil {
		t.Fatalf("NewStdioClient error: %v", err)
	}
	defer client.Close()

	tools, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools error: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != ToolFindSimilar {
		t.Fatalf("Expected tool %q, got %+v", ToolFindSimilar, tools)
	}

	var out struct {
		Similar []index.Match `json:"similar"`
	}
	if err := client.CallToolJSON(context.Background(), ToolFindSimilar, map[string]interface{}{"question": "2+2"}, &out); err != nil {
		t.Fatalf("CallTool error: %v", err)
	}
	if len(out.Similar) != 2 {
		t.Fatalf("Expected 2 matches above the default threshold, got %+v", out.Similar)
	}
}
