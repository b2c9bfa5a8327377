package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gluk-w/termgate/internal/shell"
	"github.com/gluk-w/termgate/internal/sshproxy"
)

type connectRequest struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	KeyPath  string `json:"key_path"`
}

func (req connectRequest) validate() error {
	if req.Host == "" || req.Username == "" {
		return errors.New("host and username are required")
	}
	return nil
}

type connectResponse struct {
	Success      bool   `json:"success"`
	ConnectionID string `json:"connectionId"`
	Message      string `json:"message"`
}

type disconnectResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type executeRequest struct {
	Command    string `json:"command"`
	CurrentDir string `json:"current_dir"`
}

type completeRequest struct {
	Input      string `json:"input"`
	CurrentDir string `json:"current_dir"`
}

// serverStatus is the detail view of one server id.
type serverStatus struct {
	ServerID    string                     `json:"server_id"`
	State       sshproxy.ConnectionState   `json:"state"`
	Connected   bool                       `json:"connected"`
	Connection  *sshproxy.ConnectionInfo   `json:"connection,omitempty"`
	Transitions []sshproxy.StateTransition `json:"transitions"`
	Events      []sshproxy.ConnectionEvent `json:"events"`
}

type serverSummary struct {
	ServerID string                   `json:"server_id"`
	State    sshproxy.ConnectionState `json:"state"`
}

// The four front-end operations, shared by the HTTP endpoints and the
// request socket.

func (s *Server) connect(ctx context.Context, serverID string, req connectRequest) (*connectResponse, error) {
	id, err := s.Registry.Connect(ctx, sshproxy.ConnectParams{
		ServerID: serverID,
		Host:     req.Host,
		Port:     req.Port,
		Username: req.Username,
		Password: req.Password,
		KeyPath:  req.KeyPath,
	})
	if err != nil {
		return nil, err
	}
	return &connectResponse{
		Success:      true,
		ConnectionID: id,
		Message:      fmt.Sprintf("Connected to %s@%s", req.Username, req.Host),
	}, nil
}

func (s *Server) disconnect(serverID string) *disconnectResponse {
	msg := "Disconnected"
	if !s.Registry.Disconnect(serverID) {
		msg = "Not connected"
	}
	return &disconnectResponse{Success: true, Message: msg}
}

func (s *Server) execute(ctx context.Context, serverID string, req executeRequest) (*shell.Result, error) {
	return s.Executor.Execute(ctx, serverID, req.Command, req.CurrentDir)
}

func (s *Server) complete(ctx context.Context, serverID string, req completeRequest) (*shell.CompletionResult, error) {
	return s.Completer.Complete(ctx, serverID, req.Input, req.CurrentDir)
}

// Connect opens a connection for the server id in the path.
func (s *Server) Connect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := decodeBody(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := s.connect(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Disconnect closes the server's connection. It always succeeds.
func (s *Server) Disconnect(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.disconnect(chi.URLParam(r, "id")))
}

// Reconnect replaces the server's connection using the parameters of its
// last successful connect.
func (s *Server) Reconnect(w http.ResponseWriter, r *http.Request) {
	id, err := s.Registry.Reconnect(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, connectResponse{Success: true, ConnectionID: id, Message: "Reconnected"})
}

// Execute runs one command line.
func (s *Server) Execute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeBody(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	res, err := s.execute(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Complete completes the last word of a partial input line.
func (s *Server) Complete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := decodeBody(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	res, err := s.complete(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListServers returns every server id seen so far with its current state.
func (s *Server) ListServers(w http.ResponseWriter, r *http.Request) {
	ids := s.Registry.Known()
	out := make([]serverSummary, 0, len(ids))
	for _, id := range ids {
		out = append(out, serverSummary{ServerID: id, State: s.Registry.State(id)})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"servers": out})
}

// ServerStatus returns the state, live connection details, state history and
// recent events of one server id.
func (s *Server) ServerStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st := serverStatus{
		ServerID:    id,
		State:       s.Registry.State(id),
		Transitions: s.Registry.StateHistory(id),
		Events:      s.Registry.Events(id),
	}
	if info, ok := s.Registry.Info(id); ok {
		st.Connected = true
		st.Connection = &info
	}
	if st.Transitions == nil {
		st.Transitions = []sshproxy.StateTransition{}
	}
	if st.Events == nil {
		st.Events = []sshproxy.ConnectionEvent{}
	}
	writeJSON(w, http.StatusOK, st)
}
