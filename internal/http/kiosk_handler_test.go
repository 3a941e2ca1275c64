package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"wisefido-kiosk/internal/announcer"
	"wisefido-kiosk/internal/clock"
	"wisefido-kiosk/internal/display"
	"wisefido-kiosk/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubSound struct {
	mu       sync.Mutex
	unlocked bool
	muted    bool
	voices   []announcer.Voice
	picked   *announcer.Voice
}

func (s *stubSound) Unlock() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	first := !s.unlocked
	s.unlocked = true
	return first
}

func (s *stubSound) SetMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = muted
}

func (s *stubSound) Voices() []announcer.Voice { return s.voices }

func (s *stubSound) PickVoice(idOrName string) (announcer.Voice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.voices {
		if v.ID == idOrName || v.Name == idOrName {
			s.picked = &v
			return v, nil
		}
	}
	return announcer.Voice{}, fmt.Errorf("%w: %q", announcer.ErrVoiceNotFound, idOrName)
}

func (s *stubSound) State() announcer.SoundState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return announcer.SoundState{
		Unlocked:   s.unlocked,
		Muted:      s.muted,
		Voice:      s.picked,
		UserPicked: s.picked != nil,
		VoiceCount: len(s.voices),
	}
}

type stubConnection models.ConnectionState

func (c stubConnection) ConnectionState() models.ConnectionState { return models.ConnectionState(c) }

type testEnv struct {
	router  *gin.Engine
	handler *KioskHandler
	machine *display.Machine
	sound   *stubSound
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	machine := display.NewMachine(10*time.Second, 0, clk, zap.NewNop())
	t.Cleanup(machine.Close)

	sound := &stubSound{voices: []announcer.Voice{
		{ID: "en-us", Name: "English (America)", Lang: "en-US"},
		{ID: "fr-fr", Name: "French", Lang: "fr-FR"},
	}}
	h := NewKioskHandler("station-a", machine, sound, stubConnection(models.ConnectionConnected), zap.NewNop())
	t.Cleanup(h.Close)

	return &testEnv{
		router:  NewRouter(h, nil, zap.NewNop()),
		handler: h,
		machine: machine,
		sound:   sound,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, Result) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var res Result
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	}
	return w, res
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	w, _ := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestGetDisplay(t *testing.T) {
	env := newTestEnv(t)
	env.machine.Show(models.DisplayRecord{ID: "7", FullName: "Jane Doe", CheckedIn: true})

	w, res := env.do(t, http.MethodGet, "/api/v1/display", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ResultSuccess, res.Code)

	data := res.Data.(map[string]interface{})
	assert.Equal(t, "station-a", data["station_id"])
	assert.Equal(t, "connected", data["connection"])
	disp := data["display"].(map[string]interface{})
	assert.Equal(t, "showing", disp["state"])
	assert.Equal(t, "Jane Doe", disp["current"].(map[string]interface{})["full_name"])
}

func TestUnlock_SecondCallIsNoop(t *testing.T) {
	env := newTestEnv(t)

	_, res := env.do(t, http.MethodPost, "/api/v1/sound/unlock", "")
	assert.Equal(t, true, res.Data.(map[string]interface{})["first"])

	_, res = env.do(t, http.MethodPost, "/api/v1/sound/unlock", "")
	assert.Equal(t, false, res.Data.(map[string]interface{})["first"])
	assert.True(t, env.sound.State().Unlocked)
}

func TestMute(t *testing.T) {
	env := newTestEnv(t)

	w, res := env.do(t, http.MethodPost, "/api/v1/sound/mute", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, ResultBadRequest, res.Code)

	w, _ = env.do(t, http.MethodPost, "/api/v1/sound/mute", `{"muted":true}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.sound.State().Muted)

	env.do(t, http.MethodPost, "/api/v1/sound/mute", `{"muted":false}`)
	assert.False(t, env.sound.State().Muted)
}

func TestVoices(t *testing.T) {
	env := newTestEnv(t)

	_, res := env.do(t, http.MethodGet, "/api/v1/sound/voices", "")
	voices := res.Data.(map[string]interface{})["voices"].([]interface{})
	assert.Len(t, voices, 2)

	w, res := env.do(t, http.MethodPost, "/api/v1/sound/voice", `{"voice":"French"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "fr-fr", res.Data.(map[string]interface{})["id"])
	assert.True(t, env.sound.State().UserPicked)

	w, res = env.do(t, http.MethodPost, "/api/v1/sound/voice", `{"voice":"Klingon"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ResultNotFound, res.Code)

	w, _ = env.do(t, http.MethodPost, "/api/v1/sound/voice", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNoRoute(t *testing.T) {
	env := newTestEnv(t)
	w, res := env.do(t, http.MethodGet, "/api/v1/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ResultNotFound, res.Code)
}

func readEvent(t *testing.T, r *bufio.Reader) (string, display.Snapshot) {
	t.Helper()
	var name string
	var snap display.Snapshot
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &snap))
		case line == "":
			if name != "" {
				return name, snap
			}
		}
	}
}

func TestStreamDisplay(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/display/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	reader := bufio.NewReader(resp.Body)
	name, snap := readEvent(t, reader)
	assert.Equal(t, "display", name)
	assert.Equal(t, display.StateEmpty, snap.State)

	env.machine.Show(models.DisplayRecord{ID: "7", FullName: "Jane Doe", CheckedIn: true})
	_, snap = readEvent(t, reader)
	assert.Equal(t, display.StateShowing, snap.State)
	require.NotNil(t, snap.Current)
	assert.Equal(t, "7", snap.Current.ID)

	// Close 结束长连接
	env.handler.Close()
	_, err = reader.ReadString('\n')
	for err == nil {
		_, err = reader.ReadString('\n')
	}
}
