package bootstrap

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"party-rooms/internal/dto"
	"party-rooms/internal/service"
)

func testConfig() *Config {
	return &Config{
		AppEnv:             "test",
		ServerPort:         "0",
		LogLevel:           "error",
		StoreBackend:       StoreBackendMemory,
		KeyPrefix:          "pr:",
		AdminSecret:        "admin-secret",
		TokenSecret:        "test-token-secret",
		TokenTTL:           time.Hour,
		DefaultMaxPlayers:  8,
		MaxRoomTTL:         72 * time.Hour,
		RateLimitMax:       1000,
		RateLimitWindow:    time.Second,
		LoginMaxAttempts:   5,
		LoginLockoutWindow: 15 * time.Minute,
		ReaperInterval:     time.Hour,
		RequestTimeout:     5 * time.Second,
		CORSAllowedOrigin:  "http://localhost:3000",
	}
}

func newTestApp(t *testing.T, cfg *Config) *App {
	t.Helper()
	gin.SetMode(gin.TestMode)
	require.NoError(t, cfg.Validate())
	app, err := NewApp(cfg)
	require.NoError(t, err)
	t.Cleanup(app.Shutdown)
	return app
}

// doJSON 发送请求并返回响应记录
func doJSON(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "body: %s", w.Body.String())
	return v
}

func assertErrorCode(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	assert.Equal(t, status, w.Code, "body: %s", w.Body.String())
	body := decode[dto.ErrorBody](t, w)
	assert.Equal(t, code, body.Code)
	assert.NotEmpty(t, body.Error)
}

func createRoom(t *testing.T, h http.Handler, body string) dto.CreateRoomResponse {
	t.Helper()
	w := doJSON(t, h, http.MethodPost, "/api/rooms", body)
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())
	return decode[dto.CreateRoomResponse](t, w)
}

func joinRoom(t *testing.T, h http.Handler, slug, body string) dto.JoinRoomResponse {
	t.Helper()
	w := doJSON(t, h, http.MethodPost, "/api/rooms/"+slug+"/join", body)
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	return decode[dto.JoinRoomResponse](t, w)
}

func TestApp_RoomLifecycle(t *testing.T) {
	app := newTestApp(t, testConfig())
	h := app.HttpServer.Handler

	// 1. 创建房间 (空请求体)
	room := createRoom(t, h, "")
	assert.False(t, room.HasPassword)
	assert.NoError(t, service.ValidateSlug(room.Slug))

	// 2. 两名玩家加入
	alice := joinRoom(t, h, room.Slug, `{"displayName":"Alice"}`)
	bob := joinRoom(t, h, room.Slug, `{"displayName":"Bob"}`)
	assert.Equal(t, 0, alice.Player.OrderIndex)
	assert.Equal(t, 1, bob.Player.OrderIndex)
	assert.Len(t, bob.Players, 2)
	assert.NotEmpty(t, bob.Token)

	// 3. 欢呼两次
	for i := 1; i <= 2; i++ {
		w := doJSON(t, h, http.MethodPost, "/api/rooms/"+room.Slug+"/cheers", "", "Authorization", "Bearer "+alice.Token)
		require.Equal(t, http.StatusOK, w.Code)
		cheers := decode[dto.CheersResponse](t, w)
		assert.Equal(t, int64(i), cheers.CheersCount)
		assert.False(t, cheers.UpdatedAt.IsZero())
	}

	// 4. 读取状态
	w := doJSON(t, h, http.MethodGet, "/api/rooms/"+room.Slug+"/games/cheers/state", "", "Authorization", "Bearer "+bob.Token)
	require.Equal(t, http.StatusOK, w.Code)
	state := decode[dto.GameStateResponse](t, w)
	assert.JSONEq(t, `{"cheersCount":2}`, string(state.Payload))
	assert.Equal(t, uint64(2), state.Version)

	// 5. 房间详情不暴露密码摘要
	w = doJSON(t, h, http.MethodGet, "/api/rooms/"+room.Slug, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "passwordHash")
	detail := decode[dto.RoomResponse](t, w)
	assert.Equal(t, room.Slug, detail.Room.Slug)
	assert.Len(t, detail.Players, 2)

	// 6. Bob 离开
	w = doJSON(t, h, http.MethodDelete, "/api/rooms/"+room.Slug+"/players/me", "", "Authorization", "Bearer "+bob.Token)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = doJSON(t, h, http.MethodDelete, "/api/rooms/"+room.Slug+"/players/me", "")
	assertErrorCode(t, w, http.StatusUnauthorized, "UNAUTHORIZED")

	detail = decode[dto.RoomResponse](t, doJSON(t, h, http.MethodGet, "/api/rooms/"+room.Slug, ""))
	require.Len(t, detail.Players, 1)
	assert.Equal(t, "Alice", detail.Players[0].DisplayName)
}

func TestApp_GameState(t *testing.T) {
	app := newTestApp(t, testConfig())
	h := app.HttpServer.Handler
	room := createRoom(t, h, "{}")
	auth := "Bearer " + joinRoom(t, h, room.Slug, `{"displayName":"Host"}`).Token

	w := doJSON(t, h, http.MethodGet, "/api/rooms/"+room.Slug+"/games/quiz/state", "", "Authorization", auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"gameId":"quiz","payload":null,"version":0,"updatedAt":null}`, w.Body.String())

	w = doJSON(t, h, http.MethodPut, "/api/rooms/"+room.Slug+"/games/quiz/state", `{"payload":{"round":3}}`, "Authorization", auth)
	require.Equal(t, http.StatusOK, w.Code)
	state := decode[dto.GameStateResponse](t, w)
	assert.JSONEq(t, `{"round":3}`, string(state.Payload))
	assert.Equal(t, uint64(1), state.Version)

	w = doJSON(t, h, http.MethodPost, "/api/rooms/"+room.Slug+"/games/quiz/state", `{}`, "Authorization", auth)
	assertErrorCode(t, w, http.StatusBadRequest, "VALIDATION_FAILED")

	w = doJSON(t, h, http.MethodPut, "/api/rooms/"+room.Slug+"/games/Not%20Valid/state", `{"payload":{}}`, "Authorization", auth)
	assertErrorCode(t, w, http.StatusBadRequest, "VALIDATION_FAILED")
}

func TestApp_MemberRoutesRequireToken(t *testing.T) {
	app := newTestApp(t, testConfig())
	h := app.HttpServer.Handler

	// Arrange: 受密码保护的房间，一名成员和另一个房间的成员
	locked := createRoom(t, h, `{"password":"hunter2"}`)
	member := joinRoom(t, h, locked.Slug, `{"displayName":"Alice","password":"hunter2"}`)
	other := createRoom(t, h, "")
	outsider := joinRoom(t, h, other.Slug, `{"displayName":"Mallory"}`)
	base := "/api/rooms/" + locked.Slug

	// Act & Assert: 无令牌或他人房间的令牌均被拒绝
	for _, headers := range [][]string{nil, {"Authorization", "Bearer " + outsider.Token}, {"Authorization", "Bearer garbage"}} {
		w := doJSON(t, h, http.MethodPut, base+"/games/quiz/state", `{"payload":{"hijacked":true}}`, headers...)
		assertErrorCode(t, w, http.StatusUnauthorized, "UNAUTHORIZED")
		w = doJSON(t, h, http.MethodPost, base+"/cheers", "", headers...)
		assertErrorCode(t, w, http.StatusUnauthorized, "UNAUTHORIZED")
		w = doJSON(t, h, http.MethodGet, base+"/games/quiz/state", "", headers...)
		assertErrorCode(t, w, http.StatusUnauthorized, "UNAUTHORIZED")
	}

	// 成员令牌可以读写，且之前的请求没有写入任何内容
	auth := "Bearer " + member.Token
	w := doJSON(t, h, http.MethodGet, base+"/games/quiz/state", "", "Authorization", auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, uint64(0), decode[dto.GameStateResponse](t, w).Version, "未授权请求不应写入状态")
	w = doJSON(t, h, http.MethodPut, base+"/games/quiz/state", `{"payload":{"round":1}}`, "Authorization", auth)
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, h, http.MethodPost, base+"/cheers", "", "Authorization", auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), decode[dto.CheersResponse](t, w).CheersCount)

	// 离开后令牌失效
	w = doJSON(t, h, http.MethodDelete, base+"/players/me", "", "Authorization", auth)
	require.Equal(t, http.StatusNoContent, w.Code)
	w = doJSON(t, h, http.MethodPost, base+"/cheers", "", "Authorization", auth)
	assertErrorCode(t, w, http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestApp_ErrorContract(t *testing.T) {
	app := newTestApp(t, testConfig())
	h := app.HttpServer.Handler

	// 400: 非法 slug 在访问存储之前被拒绝
	assertErrorCode(t, doJSON(t, h, http.MethodGet, "/api/rooms/UPPER", ""), http.StatusBadRequest, "INVALID_SLUG")
	assertErrorCode(t, doJSON(t, h, http.MethodPost, "/api/rooms/bad_slug/join", `{"displayName":"A"}`), http.StatusBadRequest, "INVALID_SLUG")
	assertErrorCode(t, doJSON(t, h, http.MethodPost, "/api/rooms", `{"maxPlayers":0}`), http.StatusBadRequest, "VALIDATION_FAILED")

	// 404
	assertErrorCode(t, doJSON(t, h, http.MethodGet, "/api/rooms/zzzzzzzz", ""), http.StatusNotFound, "ROOM_NOT_FOUND")

	// 409: 满员
	small := createRoom(t, h, `{"maxPlayers":1}`)
	joinRoom(t, h, small.Slug, `{"displayName":"Alice"}`)
	w := doJSON(t, h, http.MethodPost, "/api/rooms/"+small.Slug+"/join", `{"displayName":"Bob"}`)
	assertErrorCode(t, w, http.StatusConflict, "ROOM_FULL")
	spectator := joinRoom(t, h, small.Slug, `{"displayName":"Carol","asSpectator":true}`)
	assert.True(t, spectator.Player.IsSpectator)

	// 403 然后 429
	locked := createRoom(t, h, `{"password":"hunter2"}`)
	assert.True(t, locked.HasPassword)
	for i := 0; i < 5; i++ {
		w = doJSON(t, h, http.MethodPost, "/api/rooms/"+locked.Slug+"/join", `{"displayName":"Eve","password":"guess"}`)
		assertErrorCode(t, w, http.StatusForbidden, "WRONG_PASSWORD")
	}
	w = doJSON(t, h, http.MethodPost, "/api/rooms/"+locked.Slug+"/join", `{"displayName":"Eve","password":"hunter2"}`)
	assertErrorCode(t, w, http.StatusTooManyRequests, "RATE_LIMITED")
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestApp_AdminRoutes(t *testing.T) {
	app := newTestApp(t, testConfig())
	h := app.HttpServer.Handler
	room := createRoom(t, h, "")

	w := doJSON(t, h, http.MethodDelete, "/api/admin/rooms/"+room.Slug, "")
	assertErrorCode(t, w, http.StatusUnauthorized, "UNAUTHORIZED")
	w = doJSON(t, h, http.MethodDelete, "/api/admin/rooms/"+room.Slug, "", "X-Admin-Secret", "wrong")
	assertErrorCode(t, w, http.StatusUnauthorized, "UNAUTHORIZED")

	w = doJSON(t, h, http.MethodDelete, "/api/admin/rooms/"+room.Slug, "", "X-Admin-Secret", "admin-secret")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assertErrorCode(t, doJSON(t, h, http.MethodGet, "/api/rooms/"+room.Slug, ""), http.StatusNotFound, "ROOM_NOT_FOUND")

	w = doJSON(t, h, http.MethodPost, "/api/admin/sweep", "", "X-Admin-Secret", "admin-secret")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":0,"roomIds":[]}`, w.Body.String())
}

func TestApp_APIRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitMax = 3
	cfg.RateLimitWindow = time.Minute
	app := newTestApp(t, cfg)
	h := app.HttpServer.Handler

	for i := 0; i < 3; i++ {
		w := doJSON(t, h, http.MethodGet, "/api/rooms/zzzzzzzz", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	}
	w := doJSON(t, h, http.MethodGet, "/api/rooms/zzzzzzzz", "")
	assertErrorCode(t, w, http.StatusTooManyRequests, "RATE_LIMITED")
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// 健康检查不在 /api 下，不受限流影响
	ping := doJSON(t, h, http.MethodGet, "/ping", "")
	assert.Equal(t, http.StatusOK, ping.Code)
}

func TestApp_RealtimeStream(t *testing.T) {
	app := newTestApp(t, testConfig())
	go app.Hub.Run()
	srv := httptest.NewServer(app.HttpServer.Handler)
	defer srv.Close()
	h := app.HttpServer.Handler

	room := createRoom(t, h, "")
	alice := joinRoom(t, h, room.Slug, `{"displayName":"Alice"}`)

	// 令牌缺失时拒绝升级
	wsBase := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(fmt.Sprintf("%s/ws/rooms/%s?gameId=cheers", wsBase, room.Slug), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("%s/ws/rooms/%s?gameId=cheers&token=%s", wsBase, room.Slug, alice.Token), nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() dto.StreamMessage {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		var msg dto.StreamMessage
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	snapshot := read()
	assert.Equal(t, dto.StreamSnapshot, snapshot.Type)
	assert.Equal(t, uint64(0), snapshot.Version)

	w := doJSON(t, h, http.MethodPost, "/api/rooms/"+room.Slug+"/cheers", "", "Authorization", "Bearer "+alice.Token)
	require.Equal(t, http.StatusOK, w.Code)
	update := read()
	assert.Equal(t, dto.StreamUpdate, update.Type)
	assert.Equal(t, uint64(1), update.Version)
	assert.JSONEq(t, `{"cheersCount":1}`, string(update.Payload))

	w = doJSON(t, h, http.MethodDelete, "/api/admin/rooms/"+room.Slug, "", "X-Admin-Secret", "admin-secret")
	require.Equal(t, http.StatusNoContent, w.Code)
	closed := read()
	assert.Equal(t, dto.StreamRoomClosed, closed.Type)
}

func TestApp_RealtimeStream_RejectsPlayerWhoLeft(t *testing.T) {
	app := newTestApp(t, testConfig())
	go app.Hub.Run()
	srv := httptest.NewServer(app.HttpServer.Handler)
	defer srv.Close()
	h := app.HttpServer.Handler

	// Arrange: 加入后立即离开
	room := createRoom(t, h, "")
	alice := joinRoom(t, h, room.Slug, `{"displayName":"Alice"}`)
	w := doJSON(t, h, http.MethodDelete, "/api/rooms/"+room.Slug+"/players/me", "", "Authorization", "Bearer "+alice.Token)
	require.Equal(t, http.StatusNoContent, w.Code)

	// Act: 用仍未过期的令牌连接
	wsBase := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(fmt.Sprintf("%s/ws/rooms/%s?gameId=cheers&token=%s", wsBase, room.Slug, alice.Token), nil)

	// Assert
	if conn != nil {
		conn.Close()
	}
	require.Error(t, err, "已离开的玩家不能建立实时连接")
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
