package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ConfigResourceURI identifies the introspection resource.
const ConfigResourceURI = "cloudbuilder://config"

// configView is the resource payload. It carries paths and the remote
// alias only; credentials never appear here regardless of what the
// remote definition holds.
type configView struct {
	RemoteAlias      string `json:"remote_host_name"`
	LocalRoot        string `json:"local_path"`
	RemoteRoot       string `json:"remote_path"`
	BuildCommand     string `json:"build_command"`
	RclonePath       string `json:"rclone_exe_path"`
	ProjectPath      string `json:"project_path,omitempty"`
	ConnectionStatus string `json:"connection_status"`
	MissingFields    any    `json:"missing_fields,omitempty"`
}

func (s *Server) configResource() (mcp.Resource, server.ResourceHandlerFunc) {
	resource := mcp.NewResource(ConfigResourceURI, "Connection profile",
		mcp.WithResourceDescription("The resolved connection profile: remote alias, path roots, build command, and whether the configuration is complete. Never contains credentials."),
		mcp.WithMIMEType("application/json"),
	)
	return resource, s.handleConfigResource
}

func (s *Server) handleConfigResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	view := configView{
		RemoteAlias:  s.profile.RemoteAlias,
		LocalRoot:    s.profile.LocalRoot,
		RemoteRoot:   s.profile.RemoteRoot,
		BuildCommand: s.profile.BuildCommand,
		RclonePath:   s.profile.RclonePath,
		ProjectPath:  s.profile.ProjectPath,
	}
	if s.profile.Complete() {
		view.ConnectionStatus = "configured"
	} else {
		view.ConnectionStatus = "incomplete"
		view.MissingFields = s.profile.Missing()
	}

	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal config view: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      ConfigResourceURI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
