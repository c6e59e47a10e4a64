package sse

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/livecoord/pkg/backend/loopback"
	"github.com/go-go-golems/livecoord/pkg/framebus"
	"github.com/go-go-golems/livecoord/pkg/live"
	"github.com/go-go-golems/livecoord/pkg/profiles"
)

func newTestServer(t *testing.T) (*live.Coordinator, *httptest.Server) {
	t.Helper()
	reg := profiles.Defaults()
	coord, err := live.NewCoordinator(live.Options{Backend: loopback.New(reg), Profiles: reg})
	require.NoError(t, err)
	bus, err := framebus.New(framebus.Settings{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })

	h := NewHandler(coord, bus, WithPingInterval(time.Hour))
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sse/{profile}/{connection_id}", h.Stream)
	for _, kind := range []string{"text", "video", "audio", "mode"} {
		mux.HandleFunc("POST /sse/{profile}/{connection_id}/"+kind, h.Input(kind))
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return coord, srv
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func readEvent(t *testing.T, r *bufio.Reader) []string {
	t.Helper()
	var lines []string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if line == "" {
			return lines
		}
		lines = append(lines, line)
	}
}

func TestWriteEventSplitsLines(t *testing.T) {
	var b strings.Builder
	require.NoError(t, writeEvent(&b, 7, "one\r\ntwo"))
	require.Equal(t, "id: 7\ndata: one\ndata: two\n\n", b.String())
}

func TestStreamDeliversFrames(t *testing.T) {
	coord, srv := newTestServer(t)
	conn, err := coord.CreateConnection(context.Background(), "analyze", "alice", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sse/analyze/"+conn.ID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	require.Equal(t, []string{"event: ready", "data: ok"}, readEvent(t, r))

	base := srv.URL + "/sse/analyze/" + conn.ID
	require.Equal(t, http.StatusOK, post(t, base+"/text", `{"data":"hello"}`).StatusCode)

	ev := readEvent(t, r)
	require.Len(t, ev, 2)
	require.True(t, strings.HasPrefix(ev[0], "id: "))
	require.Equal(t, "data: hello", ev[1])

	require.Equal(t, http.StatusOK, post(t, base+"/audio", `{"data":"AQID"}`).StatusCode)
	ev = readEvent(t, r)
	require.Equal(t, `data: {"type":"audio","data":"AQID"}`, ev[1])

	require.Equal(t, http.StatusBadRequest, post(t, base+"/text", `{"data":"  "}`).StatusCode)
	require.Equal(t, http.StatusBadRequest, post(t, base+"/video", `{"data":"***"}`).StatusCode)
}

func TestInputRequiresAttachedStream(t *testing.T) {
	coord, srv := newTestServer(t)
	conn, err := coord.CreateConnection(context.Background(), "analyze", "alice", "")
	require.NoError(t, err)
	base := srv.URL + "/sse/analyze/" + conn.ID

	resp := post(t, base+"/text", `{"data":"hello"}`)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	// mode is accepted before the stream attaches
	resp = post(t, base+"/mode", `{"value":"初級"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, live.ModeBeginner, coord.Mode(conn.ID))

	resp = post(t, base+"/mode", `{"data":"expert"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, http.StatusNotFound, post(t, srv.URL+"/sse/analyze/missing/mode", `{"data":"beginner"}`).StatusCode)
}

func TestInputRejectsProfileMismatch(t *testing.T) {
	coord, srv := newTestServer(t)
	conn, err := coord.CreateConnection(context.Background(), "analyze", "alice", "")
	require.NoError(t, err)

	for _, kind := range []string{"text", "video", "audio", "mode"} {
		resp := post(t, srv.URL+"/sse/vision/"+conn.ID+"/"+kind, `{"data":"beginner"}`)
		require.Equal(t, http.StatusConflict, resp.StatusCode, kind)
	}
	require.Equal(t, live.ModeIntermediate, coord.Mode(conn.ID))
}

func TestStreamRejectsUnknownConnection(t *testing.T) {
	coord, srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/sse/analyze/missing")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	conn, err := coord.CreateConnection(context.Background(), "analyze", "alice", "")
	require.NoError(t, err)
	resp2, err := http.Get(srv.URL + "/sse/vision/" + conn.ID)
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	require.Equal(t, http.StatusConflict, resp2.StatusCode)
}
