package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/stewart/internal/telemetry"
)

func dialTelemetry(t *testing.T, ts *testServer) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ts.p.Run(ctx)
	}()
	srv := httptest.NewServer(ts.h)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/telemetry"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	return conn
}

func TestTelemetryWS_Broadcast(t *testing.T) {
	ts := setupTestServer(t)
	conn := dialTelemetry(t, ts)
	defer conn.Close()

	require.Eventually(t, func() bool { return ts.p.Broadcaster.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.True(t, ts.p.Broadcaster.PublishJSON(telemetry.KindRaw, telemetry.RawPayload{Type: telemetry.KindRaw, TS: 1.5, Raw: "boot ok"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)

	var got telemetry.RawPayload
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, telemetry.RawPayload{Type: telemetry.KindRaw, TS: 1.5, Raw: "boot ok"}, got)
}

func TestTelemetryWS_Disconnect(t *testing.T) {
	ts := setupTestServer(t)
	conn := dialTelemetry(t, ts)

	require.Eventually(t, func() bool { return ts.p.Broadcaster.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	conn.Close()

	assert.Eventually(t, func() bool { return ts.p.Broadcaster.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestTelemetryWS_PlainRequest(t *testing.T) {
	ts := setupTestServer(t)
	rec := ts.do(t, http.MethodGet, "/ws/telemetry", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, ts.p.Broadcaster.Count())
}
