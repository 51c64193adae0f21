package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/strayline/roverctl/internal/policy"
	"github.com/strayline/roverctl/internal/protocol"
	"github.com/strayline/roverctl/internal/testutil/testlog"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testAPI(t *testing.T) (*API, *Controller) {
	t.Helper()
	ctrl, _ := startTestController(t, policy.OracleFunc(func(context.Context, []byte, string) (string, error) {
		return "COMMAND: 0,0,2,2", nil
	}))
	return NewAPI(ctrl, nil), ctrl
}

func doJSON(t *testing.T, api *API, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	api.Router().ServeHTTP(rr, req)

	var decoded map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode %s %s response: %v body=%s", method, path, err, rr.Body.String())
		}
	}
	return rr, decoded
}

func TestHealthEndpoint(t *testing.T) {
	testlog.Start(t)
	api, _ := testAPI(t)

	rr, body := doJSON(t, api, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body["status"] != "ok" || body["service"] != "controld" {
		t.Fatalf("unexpected health payload: %#v", body)
	}
}

func TestStatusEndpoint(t *testing.T) {
	testlog.Start(t)
	api, _ := testAPI(t)

	rr, body := doJSON(t, api, http.MethodGet, "/status", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body["goal"] != "explore" {
		t.Fatalf("goal mismatch: %#v", body["goal"])
	}
	if body["rovers"] != float64(0) {
		t.Fatalf("rover count mismatch: %#v", body["rovers"])
	}
}

func TestGoalUpdate(t *testing.T) {
	testlog.Start(t)
	api, ctrl := testAPI(t)

	rr, _ := doJSON(t, api, http.MethodPost, "/goal", `{"goal":"find the charger"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if got := ctrl.Decider().State().Goal(); got != "find the charger" {
		t.Fatalf("goal not applied: got=%q", got)
	}

	rr, _ = doJSON(t, api, http.MethodPost, "/goal", `{}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty goal, got %d", rr.Code)
	}
}

func TestManualCommandEndpoint(t *testing.T) {
	testlog.Start(t)
	api, ctrl := testAPI(t)

	// No rover connected yet.
	rr, _ := doJSON(t, api, http.MethodPost, "/command", `{"command":"forward 120"}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a rover, got %d", rr.Code)
	}

	rr, _ = doJSON(t, api, http.MethodPost, "/command", `{"command":"warp 9"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad grammar, got %d", rr.Code)
	}

	session := dialTestRover(t, ctrl.Server())
	waitForConn(t, ctrl.Server())

	rr, body := doJSON(t, api, http.MethodPost, "/command", `{"command":"forward 120"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected payload: %#v", body)
	}
	cmd, ok := session.ReceiveCommand(5 * time.Second)
	if !ok || cmd != protocol.ForwardCommand(120, 0) {
		t.Fatalf("command mismatch: ok=%v got=%+v", ok, cmd)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	testlog.Start(t)
	api, ctrl := testAPI(t)

	ctrl.Decider().State().Record(protocol.ForwardCommand(100, 0), "moving out")
	rr, body := doJSON(t, api, http.MethodGet, "/history", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	hist, ok := body["history"].([]any)
	if !ok || len(hist) != 1 {
		t.Fatalf("history payload mismatch: %#v", body)
	}
	entry := hist[0].(map[string]any)
	if entry["reasoning"] != "moving out" {
		t.Fatalf("entry mismatch: %#v", entry)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	testlog.Start(t)
	api, _ := testAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	api.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "roverctl") {
		t.Fatalf("metrics exposition missing namespace")
	}
}
