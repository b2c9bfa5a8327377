package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/gluk-w/termgate/internal/logutil"
)

// Request socket operations.
const (
	opConnect    = "connect"
	opDisconnect = "disconnect"
	opExecute    = "execute"
	opComplete   = "complete"
	opReconnect  = "reconnect"
)

// wsHeader is the part of a request frame common to every operation. The
// operation's own fields sit alongside it in the same object.
type wsHeader struct {
	ID       string `json:"id"`
	Op       string `json:"op"`
	ServerID string `json:"server_id"`
}

type wsReply struct {
	ID     string      `json:"id"`
	OK     bool        `json:"ok"`
	Result interface{} `json:"result,omitempty"`
	Error  *errorBody  `json:"error,omitempty"`
}

// RequestSocket serves the request/response operations over one WebSocket.
// Up to MaxInFlight requests are handled concurrently; replies carry the
// request id and may arrive out of order.
func (s *Server) RequestSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.AllowedOrigins,
	})
	if err != nil {
		log.Printf("[handlers] failed to accept request websocket: %v", err)
		return
	}
	defer conn.CloseNow()

	sessionID := uuid.New().String()
	log.Printf("[handlers] request socket %s opened from %s", sessionID, logutil.SanitizeForLog(r.RemoteAddr))

	// In-flight requests are cancelled, then awaited, once reading stops.
	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	limit := s.MaxInFlight
	if limit <= 0 {
		limit = defaultMaxInFlight
	}
	slots := make(chan struct{}, limit)

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				log.Printf("[handlers] request socket %s read: %v", sessionID, err)
			}
			log.Printf("[handlers] request socket %s closed", sessionID)
			return
		}
		if msgType != websocket.MessageText {
			s.reply(ctx, conn, wsReply{Error: &errorBody{Detail: "expected a text frame", Kind: "invalid_request"}})
			continue
		}

		var hdr wsHeader
		if err := json.Unmarshal(data, &hdr); err != nil {
			s.reply(ctx, conn, wsReply{Error: &errorBody{Detail: "invalid JSON frame", Kind: "invalid_request"}})
			continue
		}
		if hdr.ID == "" {
			hdr.ID = uuid.New().String()
		}

		// A full socket stops reading until a request finishes.
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return
		}
		wg.Add(1)
		go func() {
			defer func() {
				<-slots
				wg.Done()
			}()
			s.reply(ctx, conn, s.dispatch(ctx, hdr, data))
		}()
	}
}

func (s *Server) reply(ctx context.Context, conn *websocket.Conn, rep wsReply) {
	if err := wsjson.Write(ctx, conn, rep); err != nil && ctx.Err() == nil {
		log.Printf("[handlers] request socket write: %v", err)
	}
}

// dispatch runs one request frame and builds its reply.
func (s *Server) dispatch(ctx context.Context, hdr wsHeader, data []byte) wsReply {
	result, err := s.runOp(ctx, hdr, data)
	if err != nil {
		body := newErrorBody(err)
		var bad *invalidRequest
		if errors.As(err, &bad) {
			body.Kind = "invalid_request"
		}
		return wsReply{ID: hdr.ID, Error: &body}
	}
	return wsReply{ID: hdr.ID, OK: true, Result: result}
}

type invalidRequest struct{ msg string }

func (e *invalidRequest) Error() string { return e.msg }

func (s *Server) runOp(ctx context.Context, hdr wsHeader, data []byte) (interface{}, error) {
	if hdr.ServerID == "" {
		return nil, &invalidRequest{"server_id is required"}
	}

	switch hdr.Op {
	case opConnect:
		var req connectRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, &invalidRequest{"invalid connect request"}
		}
		if err := req.validate(); err != nil {
			return nil, &invalidRequest{err.Error()}
		}
		return s.connect(ctx, hdr.ServerID, req)
	case opDisconnect:
		return s.disconnect(hdr.ServerID), nil
	case opExecute:
		var req executeRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, &invalidRequest{"invalid execute request"}
		}
		return s.execute(ctx, hdr.ServerID, req)
	case opComplete:
		var req completeRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, &invalidRequest{"invalid complete request"}
		}
		return s.complete(ctx, hdr.ServerID, req)
	case opReconnect:
		id, err := s.Registry.Reconnect(ctx, hdr.ServerID)
		if err != nil {
			return nil, err
		}
		return &connectResponse{Success: true, ConnectionID: id, Message: "Reconnected"}, nil
	default:
		return nil, &invalidRequest{fmt.Sprintf("unknown op %q", hdr.Op)}
	}
}
