// Package mcpserver exposes the registry agent as an MCP tool surface:
// login lifecycle, read-side registry queries, and the guided workflow that
// gates every mutating operation.
package mcpserver

import (
	"net/http"

	"github.com/mark3labs/mcp-go/server"

	"registry-mcp/internal/authsession"
	"registry-mcp/internal/invoker"
	"registry-mcp/internal/logging"
	"registry-mcp/internal/registry"
	"registry-mcp/internal/schema"
	"registry-mcp/internal/workflow"
)

type Server struct {
	mcpServer *server.MCPServer
	auth      *authsession.Session
	registry  *registry.Client
	invoker   *invoker.Invoker
	engine    *workflow.Engine
	schemas   *schema.Registry
	log       *logging.Logger
}

func NewServer(auth *authsession.Session, client *registry.Client, inv *invoker.Invoker, engine *workflow.Engine, schemas *schema.Registry, log *logging.Logger) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Registry Connector",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		auth:     auth,
		registry: client,
		invoker:  inv,
		engine:   engine,
		schemas:  schemas,
		log:      log,
	}

	s.registerAuthTools()
	s.registerRegistryTools()
	s.registerWorkflowTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio runs the server over stdin/stdout for clients that spawn the
// agent as a subprocess.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// MountHTTPHandlers wires the SSE transport under /mcp.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
