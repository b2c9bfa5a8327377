package handlers

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

type wsTestReply struct {
	ID     string                 `json:"id"`
	OK     bool                   `json:"ok"`
	Result map[string]interface{} `json:"result"`
	Error  *errorBody             `json:"error"`
}

func dialSocket(t *testing.T, url string) (*websocket.Conn, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(url, "http")+"/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn, ctx
}

func roundTrip(t *testing.T, ctx context.Context, conn *websocket.Conn, req map[string]interface{}) wsTestReply {
	t.Helper()
	if err := wsjson.Write(ctx, conn, req); err != nil {
		t.Fatalf("write: %v", err)
	}
	var rep wsTestReply
	if err := wsjson.Read(ctx, conn, &rep); err != nil {
		t.Fatalf("read: %v", err)
	}
	return rep
}

func TestRequestSocketOperations(t *testing.T) {
	tg := newSSHTarget(t)
	_, ts := newTestServer(t)
	conn, ctx := dialSocket(t, ts.URL)

	rep := roundTrip(t, ctx, conn, map[string]interface{}{
		"id": "1", "op": "connect", "server_id": "web",
		"host": tg.host, "port": tg.port, "username": "tester", "password": testPassword,
	})
	if rep.ID != "1" || !rep.OK || rep.Result["connectionId"] != "web" {
		t.Fatalf("connect reply = %+v", rep)
	}

	rep = roundTrip(t, ctx, conn, map[string]interface{}{
		"id": "2", "op": "execute", "server_id": "web", "command": "cd app", "current_dir": "/srv",
	})
	if !rep.OK || rep.Result["newDir"] != "/srv/app" {
		t.Fatalf("execute reply = %+v", rep)
	}

	rep = roundTrip(t, ctx, conn, map[string]interface{}{
		"id": "3", "op": "complete", "server_id": "web", "input": "gi", "current_dir": "/srv/app",
	})
	if !rep.OK || rep.Result["completedInput"] != "git" {
		t.Fatalf("complete reply = %+v", rep)
	}

	rep = roundTrip(t, ctx, conn, map[string]interface{}{"id": "4", "op": "disconnect", "server_id": "web"})
	if !rep.OK || rep.Result["success"] != true {
		t.Fatalf("disconnect reply = %+v", rep)
	}

	rep = roundTrip(t, ctx, conn, map[string]interface{}{"id": "5", "op": "execute", "server_id": "web", "command": "ls"})
	if rep.OK || rep.Error == nil || rep.Error.Kind != "not_connected" {
		t.Fatalf("execute after disconnect = %+v", rep)
	}
}

func TestRequestSocketBadFrames(t *testing.T) {
	_, ts := newTestServer(t)
	conn, ctx := dialSocket(t, ts.URL)

	tests := []struct {
		name string
		req  map[string]interface{}
	}{
		{"unknown op", map[string]interface{}{"id": "a", "op": "reboot", "server_id": "web"}},
		{"missing server id", map[string]interface{}{"id": "b", "op": "execute", "command": "ls"}},
		{"connect without host", map[string]interface{}{"id": "c", "op": "connect", "server_id": "web", "password": "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := roundTrip(t, ctx, conn, tt.req)
			if rep.OK || rep.Error == nil || rep.Error.Kind != "invalid_request" {
				t.Errorf("reply = %+v", rep)
			}
			if rep.ID != tt.req["id"] {
				t.Errorf("id = %q, want %v", rep.ID, tt.req["id"])
			}
		})
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte("{oops")); err != nil {
		t.Fatalf("write: %v", err)
	}
	var rep wsTestReply
	if err := wsjson.Read(ctx, conn, &rep); err != nil {
		t.Fatalf("read: %v", err)
	}
	if rep.OK || rep.Error == nil || rep.Error.Detail != "invalid JSON frame" {
		t.Errorf("malformed frame reply = %+v", rep)
	}
}

func TestRequestSocketAssignsMissingID(t *testing.T) {
	_, ts := newTestServer(t)
	conn, ctx := dialSocket(t, ts.URL)

	rep := roundTrip(t, ctx, conn, map[string]interface{}{"op": "disconnect", "server_id": "web"})
	if !rep.OK || len(rep.ID) != 36 {
		t.Errorf("reply = %+v", rep)
	}
}

func TestRequestSocketLimitsRequestsInFlight(t *testing.T) {
	tg := newSSHTarget(t)
	s, ts := newTestServer(t)
	s.MaxInFlight = 1
	conn, ctx := dialSocket(t, ts.URL)

	rep := roundTrip(t, ctx, conn, map[string]interface{}{
		"id": "c", "op": "connect", "server_id": "web",
		"host": tg.host, "port": tg.port, "username": "tester", "password": testPassword,
	})
	if !rep.OK {
		t.Fatalf("connect reply = %+v", rep)
	}

	// With one slot the quick request must wait behind the held one.
	for _, req := range []map[string]interface{}{
		{"id": "slow", "op": "execute", "server_id": "web", "command": "hold"},
		{"id": "fast", "op": "execute", "server_id": "web", "command": "echo"},
	} {
		if err := wsjson.Write(ctx, conn, req); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	time.AfterFunc(200*time.Millisecond, func() { close(tg.release) })

	var order []string
	for i := 0; i < 2; i++ {
		var r wsTestReply
		if err := wsjson.Read(ctx, conn, &r); err != nil {
			t.Fatalf("read: %v", err)
		}
		if !r.OK {
			t.Fatalf("reply %s failed: %+v", r.ID, r.Error)
		}
		order = append(order, r.ID)
	}
	if order[0] != "slow" || order[1] != "fast" {
		t.Errorf("reply order = %v, want [slow fast]", order)
	}
}
