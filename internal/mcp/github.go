package mcp

import "time"

// version is reported to MCP servers during the handshake.
const version = "0.2.0"

// GitHubServer returns the config for the official GitHub MCP server,
// run as a docker subprocess over stdio. The personal access token is
// passed through the environment, never on the command line.
func GitHubServer(token string, startTimeout time.Duration) ServerConfig {
	return ServerConfig{
		Name:    "github",
		Command: "docker",
		Args: []string{
			"run", "-i", "--rm",
			"-e", "GITHUB_PERSONAL_ACCESS_TOKEN",
			"ghcr.io/github/github-mcp-server",
		},
		Env:          []string{"GITHUB_PERSONAL_ACCESS_TOKEN=" + token},
		StartTimeout: startTimeout,
	}
}
