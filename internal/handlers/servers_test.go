package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func doJSON(t *testing.T, method, url string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	out := map[string]interface{}{}
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp, out
}

func connectBody(tg *sshTarget) map[string]interface{} {
	return map[string]interface{}{
		"host":     tg.host,
		"port":     tg.port,
		"username": "tester",
		"password": testPassword,
	}
}

func mustConnect(t *testing.T, ts *httptest.Server, tg *sshTarget, id string) {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/servers/"+id+"/connect", connectBody(tg))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("connect status = %d, body %v", resp.StatusCode, body)
	}
	if body["success"] != true || body["connectionId"] != id {
		t.Fatalf("connect body = %v", body)
	}
}

func TestConnectExecuteDisconnect(t *testing.T) {
	tg := newSSHTarget(t)
	_, ts := newTestServer(t)
	mustConnect(t, ts, tg, "web")

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/servers/web/execute",
		map[string]string{"command": "ls"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("execute status = %d, body %v", resp.StatusCode, body)
	}
	if body["output"] != "hello\nworld\n" {
		t.Errorf("output = %q", body["output"])
	}
	if body["exitCode"] != float64(0) || body["isInteractive"] != false {
		t.Errorf("body = %v", body)
	}
	lines, _ := body["outputLines"].([]interface{})
	if len(lines) != 2 || lines[0] != "hello" || lines[1] != "world" {
		t.Errorf("outputLines = %v", body["outputLines"])
	}
	if body["newDir"] != nil {
		t.Errorf("newDir = %v, want null", body["newDir"])
	}

	resp, body = doJSON(t, http.MethodDelete, ts.URL+"/api/v1/servers/web", nil)
	if resp.StatusCode != http.StatusOK || body["success"] != true || body["message"] != "Disconnected" {
		t.Fatalf("disconnect = %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/v1/servers/web/execute",
		map[string]string{"command": "ls"})
	if resp.StatusCode != http.StatusNotFound || body["kind"] != "not_connected" {
		t.Errorf("execute after disconnect = %d %v", resp.StatusCode, body)
	}
}

func TestDisconnectUnknownStillSucceeds(t *testing.T) {
	_, ts := newTestServer(t)
	resp, body := doJSON(t, http.MethodDelete, ts.URL+"/api/v1/servers/ghost", nil)
	if resp.StatusCode != http.StatusOK || body["success"] != true {
		t.Errorf("disconnect = %d %v", resp.StatusCode, body)
	}
	if body["message"] != "Not connected" {
		t.Errorf("message = %v", body["message"])
	}
}

func TestConnectErrors(t *testing.T) {
	tg := newSSHTarget(t)
	_, ts := newTestServer(t)
	mustConnect(t, ts, tg, "busy")

	tests := []struct {
		name       string
		id         string
		body       map[string]interface{}
		wantStatus int
		wantKind   string
	}{
		{
			name:       "no credential",
			id:         "a",
			body:       map[string]interface{}{"host": tg.host, "port": tg.port, "username": "tester"},
			wantStatus: http.StatusBadRequest,
			wantKind:   "missing_credential",
		},
		{
			name: "both credentials",
			id:   "b",
			body: map[string]interface{}{
				"host": tg.host, "port": tg.port, "username": "tester",
				"password": testPassword, "key_path": "/nonexistent",
			},
			wantStatus: http.StatusBadRequest,
			wantKind:   "missing_credential",
		},
		{
			name:       "missing key file",
			id:         "c",
			body:       map[string]interface{}{"host": tg.host, "port": tg.port, "username": "tester", "key_path": "/nonexistent/id_rsa"},
			wantStatus: http.StatusBadRequest,
			wantKind:   "key_load_failed",
		},
		{
			name:       "wrong password",
			id:         "d",
			body:       map[string]interface{}{"host": tg.host, "port": tg.port, "username": "tester", "password": "nope"},
			wantStatus: http.StatusUnauthorized,
			wantKind:   "auth_failed",
		},
		{
			name:       "already connected",
			id:         "busy",
			body:       connectBody(tg),
			wantStatus: http.StatusConflict,
			wantKind:   "already_connected",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/servers/"+tt.id+"/connect", tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d (%v)", resp.StatusCode, tt.wantStatus, body)
			}
			if body["kind"] != tt.wantKind {
				t.Errorf("kind = %v, want %s", body["kind"], tt.wantKind)
			}
			if d, _ := body["detail"].(string); d == "" {
				t.Error("detail is empty")
			}
		})
	}
}

func TestConnectValidation(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/servers/x/connect",
		map[string]string{"password": "pw"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, body %v", resp.StatusCode, body)
	}

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/servers/x/connect", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	r2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	r2.Body.Close()
	if r2.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body status = %d", r2.StatusCode)
	}
}

func TestBodiesMustBeJSON(t *testing.T) {
	tg := newSSHTarget(t)
	_, ts := newTestServer(t)
	mustConnect(t, ts, tg, "web")

	tests := []struct {
		name        string
		path        string
		contentType string
		want        int
	}{
		{"execute text/plain", "/api/v1/servers/web/execute", "text/plain", http.StatusUnsupportedMediaType},
		{"execute form", "/api/v1/servers/web/execute", "application/x-www-form-urlencoded", http.StatusUnsupportedMediaType},
		{"execute no type", "/api/v1/servers/web/execute", "", http.StatusUnsupportedMediaType},
		{"connect text/plain", "/api/v1/servers/other/connect", "text/plain", http.StatusUnsupportedMediaType},
		{"complete text/plain", "/api/v1/servers/web/complete", "text/plain", http.StatusUnsupportedMediaType},
		{"execute json with charset", "/api/v1/servers/web/execute", "application/json; charset=utf-8", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{"command":"echo hi","input":"gi","host":"h","username":"u","password":"p"}`
			req, _ := http.NewRequest(http.MethodPost, ts.URL+tt.path, strings.NewReader(body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}

	runs := 0
	for _, cmd := range tg.ran() {
		if strings.Contains(cmd, "echo hi") {
			runs++
		}
	}
	if runs != 1 {
		t.Errorf("command reached the server %d times, want once", runs)
	}
}

func TestExecuteInteractiveNeverReachesServer(t *testing.T) {
	tg := newSSHTarget(t)
	_, ts := newTestServer(t)
	mustConnect(t, ts, tg, "web")

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/servers/web/execute",
		map[string]string{"command": "vim notes.txt"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["isInteractive"] != true || body["exitCode"] != float64(0) {
		t.Errorf("body = %v", body)
	}
	if msg, _ := body["interactiveMessage"].(string); !strings.Contains(msg, "vim") {
		t.Errorf("interactiveMessage = %q", msg)
	}
	for _, cmd := range tg.ran() {
		if strings.Contains(cmd, "vim") {
			t.Errorf("server ran %q", cmd)
		}
	}
}

func TestExecuteChangeDir(t *testing.T) {
	tg := newSSHTarget(t)
	_, ts := newTestServer(t)
	mustConnect(t, ts, tg, "web")

	_, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/servers/web/execute",
		map[string]string{"command": "cd app", "current_dir": "/srv"})
	if body["newDir"] != "/srv/app" || body["exitCode"] != float64(0) {
		t.Errorf("cd body = %v", body)
	}

	_, body = doJSON(t, http.MethodPost, ts.URL+"/api/v1/servers/web/execute",
		map[string]string{"command": "cd /missing", "current_dir": "/srv"})
	if body["newDir"] != nil || body["exitCode"] != float64(1) {
		t.Errorf("failed cd body = %v", body)
	}
	if s, _ := body["stderr"].(string); !strings.Contains(s, "No such file") {
		t.Errorf("stderr = %q", s)
	}
}

func TestComplete(t *testing.T) {
	tg := newSSHTarget(t)
	_, ts := newTestServer(t)
	mustConnect(t, ts, tg, "web")

	tests := []struct {
		name          string
		input         string
		wantCompleted interface{}
		wantShow      bool
		wantMatches   int
	}{
		{name: "common prefix", input: "gi", wantCompleted: "git"},
		{name: "ambiguous", input: "g", wantCompleted: nil, wantShow: true, wantMatches: 3},
		{name: "path", input: "cat READ", wantCompleted: "cat /srv/app/README.md"},
		{name: "trailing space", input: "git ", wantCompleted: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/servers/web/complete",
				map[string]string{"input": tt.input, "current_dir": "/srv/app"})
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, body %v", resp.StatusCode, body)
			}
			if body["completedInput"] != tt.wantCompleted {
				t.Errorf("completedInput = %v, want %v", body["completedInput"], tt.wantCompleted)
			}
			if body["shouldShowMatches"] != tt.wantShow {
				t.Errorf("shouldShowMatches = %v", body["shouldShowMatches"])
			}
			matches, ok := body["matches"].([]interface{})
			if !ok {
				t.Fatalf("matches = %v, want a list", body["matches"])
			}
			if len(matches) != tt.wantMatches {
				t.Errorf("matches = %v", matches)
			}
		})
	}
}

func TestCompleteNotConnected(t *testing.T) {
	_, ts := newTestServer(t)
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/servers/nope/complete",
		map[string]string{"input": "gi"})
	if resp.StatusCode != http.StatusNotFound || body["kind"] != "not_connected" {
		t.Errorf("complete = %d %v", resp.StatusCode, body)
	}
}

func TestListAndStatus(t *testing.T) {
	tg := newSSHTarget(t)
	_, ts := newTestServer(t)
	mustConnect(t, ts, tg, "b")
	mustConnect(t, ts, tg, "a")
	doJSON(t, http.MethodDelete, ts.URL+"/api/v1/servers/b", nil)

	_, body := doJSON(t, http.MethodGet, ts.URL+"/api/v1/servers", nil)
	servers, _ := body["servers"].([]interface{})
	if len(servers) != 2 {
		t.Fatalf("servers = %v", body["servers"])
	}
	first := servers[0].(map[string]interface{})
	second := servers[1].(map[string]interface{})
	if first["server_id"] != "a" || first["state"] != "connected" {
		t.Errorf("first = %v", first)
	}
	if second["server_id"] != "b" || second["state"] != "disconnected" {
		t.Errorf("second = %v", second)
	}

	_, body = doJSON(t, http.MethodGet, ts.URL+"/api/v1/servers/a/status", nil)
	if body["connected"] != true || body["state"] != "connected" {
		t.Errorf("status = %v", body)
	}
	conn, _ := body["connection"].(map[string]interface{})
	if conn["username"] != "tester" {
		t.Errorf("connection = %v", conn)
	}
	if events, _ := body["events"].([]interface{}); len(events) == 0 {
		t.Error("expected connection events")
	}

	_, body = doJSON(t, http.MethodGet, ts.URL+"/api/v1/servers/never/status", nil)
	if body["connected"] != false || body["state"] != "disconnected" {
		t.Errorf("unknown status = %v", body)
	}
	if tr, ok := body["transitions"].([]interface{}); !ok || len(tr) != 0 {
		t.Errorf("transitions = %v", body["transitions"])
	}
}

func TestReconnect(t *testing.T) {
	tg := newSSHTarget(t)
	_, ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/servers/web/reconnect", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("reconnect before connect = %d %v", resp.StatusCode, body)
	}

	mustConnect(t, ts, tg, "web")
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/v1/servers/web/reconnect", nil)
	if resp.StatusCode != http.StatusOK || body["success"] != true {
		t.Fatalf("reconnect = %d %v", resp.StatusCode, body)
	}
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/v1/servers/web/execute", map[string]string{"command": "ls"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("execute after reconnect = %d", resp.StatusCode)
	}
}

func TestHealthCheck(t *testing.T) {
	_, ts := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	// no database wired into the test server
	if body["status"] != "unhealthy" || body["database"] != "disconnected" {
		t.Errorf("health = %v", body)
	}
	if body["connections"] != float64(0) {
		t.Errorf("connections = %v", body["connections"])
	}
}
