package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// sdkBackend implements backend over an MCP SDK client session speaking
// stdio to a server subprocess.
type sdkBackend struct {
	session *mcpsdk.ClientSession
}

// dialStdio spawns the server subprocess and performs the MCP handshake.
// The subprocess outlives ctx; ctx only bounds the handshake.
func dialStdio(ctx context.Context, config ServerConfig) (backend, error) {
	if config.Command == "" {
		return nil, fmt.Errorf("server %s: no command configured", config.Name)
	}

	impl := &mcpsdk.Implementation{
		Name:    "aquarius",
		Version: version,
	}
	client := mcpsdk.NewClient(impl, nil)

	cmd := exec.Command(config.Command, config.Args...)
	if len(config.Env) > 0 {
		cmd.Env = append(os.Environ(), config.Env...)
	}

	session, err := client.Connect(ctx, &mcpsdk.CommandTransport{Command: cmd}, nil)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", config.Name, err)
	}
	return &sdkBackend{session: session}, nil
}

func (b *sdkBackend) listTools(ctx context.Context) ([]ToolDescriptor, error) {
	var descriptors []ToolDescriptor
	for tool, err := range b.session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("list tools: %w", err)
		}
		schema, err := toolSchema(tool.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", tool.Name, err)
		}
		d, err := newDescriptor(tool.Name, tool.Description, schema)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}

// toolSchema normalizes the SDK's untyped input schema. Servers usually
// hand back a decoded JSON object; a round trip through JSON yields the
// typed schema either way.
func toolSchema(raw any) (*jsonschema.Schema, error) {
	switch s := raw.(type) {
	case nil:
		return nil, nil
	case *jsonschema.Schema:
		return s, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal input schema: %w", err)
	}
	schema := new(jsonschema.Schema)
	if err := json.Unmarshal(data, schema); err != nil {
		return nil, fmt.Errorf("parse input schema: %w", err)
	}
	return schema, nil
}

func (b *sdkBackend) call(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	result, err := b.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", err
	}

	text := extractText(result.Content)
	if result.IsError {
		if text == "" {
			text = "tool returned an error"
		}
		return "", fmt.Errorf("%s", text)
	}
	return text, nil
}

func (b *sdkBackend) close() error {
	return b.session.Close()
}

// extractText joins the text blocks of a tool result.
func extractText(content []mcpsdk.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
