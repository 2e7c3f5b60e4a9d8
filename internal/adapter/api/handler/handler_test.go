package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealroom/internal/adapter/api"
	"dealroom/internal/adapter/api/handler"
	"dealroom/internal/adapter/api/middleware"
	"dealroom/internal/adapter/api/router"
	"dealroom/internal/adapter/repository"
	"dealroom/internal/domain/entity"
	"dealroom/internal/infrastructure/auth"
	ws "dealroom/internal/infrastructure/websocket"
	"dealroom/internal/usecase"
	"dealroom/pkg/errors"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type app struct {
	url      string
	sessions *auth.SessionManager
	tokens   map[string]string
	manager  *ws.Manager
}

func newApp(t *testing.T) *app {
	t.Helper()
	db, err := repository.OpenSQLite(filepath.Join(t.TempDir(), "dealroom.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	convRepo := repository.NewSQLiteConversationRepository(db)
	msgRepo := repository.NewSQLiteMessageRepository(db)
	userRepo := repository.NewSQLiteUserRepository(db)
	listingRepo := repository.NewSQLiteListingRepository(db)

	manager := ws.NewManager()
	broadcaster := ws.NewRouter(manager)
	sessions := auth.NewSessionManager("handler-test-secret", time.Hour)

	ledger := usecase.NewLedger(convRepo, msgRepo, broadcaster)
	negotiationUseCase := usecase.NewNegotiationUseCase(convRepo, listingRepo, ledger, broadcaster, nil)
	chatUseCase := usecase.NewChatUseCase(convRepo, msgRepo, userRepo, listingRepo, ledger, negotiationUseCase, broadcaster, nil)

	e := echo.New()
	e.Validator = api.NewValidator()
	router.Setup(e, router.Handlers{
		Chat:        handler.NewChatHandler(chatUseCase),
		Negotiation: handler.NewNegotiationHandler(negotiationUseCase),
		User:        handler.NewUserHandler(chatUseCase),
		WebSocket:   handler.NewWebSocketHandler(manager, sessions, chatUseCase, negotiationUseCase, e.Validator, nil),
		Health:      handler.NewHealthHandler("sqlite", db.PingContext),
		DevToken:    handler.NewDevTokenHandler(sessions, userRepo),
	}, middleware.NewAuthMiddleware(sessions), nil, "development")

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	t.Cleanup(manager.Close)

	ctx := context.Background()
	a := &app{url: srv.URL, sessions: sessions, tokens: map[string]string{}, manager: manager}
	for _, u := range []*entity.User{
		{ID: "seller", Username: "sam", Role: entity.RoleSeller},
		{ID: "buyer", Username: "bea", Role: entity.RoleBuyer},
		{ID: "buyer2", Username: "ben", Role: entity.RoleBuyer},
	} {
		require.NoError(t, userRepo.Create(ctx, u))
		token, _, err := sessions.Issue(u.ID, u.Role)
		require.NoError(t, err)
		a.tokens[u.ID] = token
	}
	require.NoError(t, listingRepo.Create(ctx, &entity.Listing{ID: "bike", SellerID: "seller", Title: "Bike", Price: 1000}))
	return a
}

func (a *app) do(t *testing.T, method, path, user string, body interface{}) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, a.url+path, reader)
	require.NoError(t, err)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if user != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+a.tokens[user])
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp.StatusCode, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func (a *app) startConversation(t *testing.T) string {
	t.Helper()
	status, env := a.do(t, http.MethodPost, "/v1/conversations", "buyer", map[string]string{
		"otherUserId": "seller",
		"listingRef":  "bike",
	})
	require.Contains(t, []int{http.StatusCreated, http.StatusOK}, status)
	return decode[entity.Conversation](t, env.Data).ID
}

func TestConversationLifecycleOverHTTP(t *testing.T) {
	a := newApp(t)

	status, env := a.do(t, http.MethodPost, "/v1/conversations", "buyer", map[string]string{
		"otherUserId": "seller",
		"listingRef":  "bike",
		"initialText": "Hi, is the bike available?",
	})
	require.Equal(t, http.StatusCreated, status)
	conv := decode[usecase.ConversationResponse](t, env.Data)
	assert.Equal(t, entity.DealPending, conv.DealStatus)
	assert.Equal(t, "seller", conv.Counterpart.UserID)

	status, env = a.do(t, http.MethodPost, "/v1/conversations", "seller", map[string]string{
		"otherUserId": "buyer",
		"listingRef":  "bike",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, conv.ID, decode[entity.Conversation](t, env.Data).ID)

	status, _ = a.do(t, http.MethodPost, "/v1/conversations/"+conv.ID+"/messages", "seller", map[string]string{"text": "Yes it is"})
	require.Equal(t, http.StatusCreated, status)

	status, env = a.do(t, http.MethodGet, "/v1/conversations/"+conv.ID+"/messages?page=1&limit=10", "seller", nil)
	require.Equal(t, http.StatusOK, status)
	page := decode[struct {
		Items []*entity.Message `json:"items"`
		Total int64             `json:"total"`
	}](t, env.Data)
	assert.EqualValues(t, 2, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "Hi, is the bike available?", page.Items[0].Text)
	assert.True(t, page.Items[0].IsReadBy("seller"))

	status, env = a.do(t, http.MethodGet, "/v1/conversations", "buyer", nil)
	require.Equal(t, http.StatusOK, status)
	list := decode[[]*usecase.ConversationResponse](t, env.Data)
	require.Len(t, list, 1)
	assert.Equal(t, "Yes it is", list[0].LastMessagePreview.Text)

	status, env = a.do(t, http.MethodGet, "/v1/conversations/"+conv.ID, "buyer2", nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, errors.CodeForbidden, env.Error.Code)

	status, _ = a.do(t, http.MethodDelete, "/v1/conversations/"+conv.ID, "buyer", nil)
	assert.Equal(t, http.StatusNoContent, status)

	_, env = a.do(t, http.MethodGet, "/v1/conversations", "buyer", nil)
	assert.Empty(t, decode[[]*usecase.ConversationResponse](t, env.Data))
}

func TestNegotiationOverHTTP(t *testing.T) {
	a := newApp(t)
	id := a.startConversation(t)
	base := "/v1/conversations/" + id

	status, env := a.do(t, http.MethodPost, base+"/messages", "buyer", map[string]string{"messageType": "price_offer"})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, errors.CodeValidation, env.Error.Code)

	status, env = a.do(t, http.MethodPost, base+"/negotiate", "buyer", map[string]interface{}{"action": "accept", "newPrice": 800})
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, errors.CodeInvalidTransition, env.Error.Code)

	status, env = a.do(t, http.MethodPost, base+"/negotiate", "buyer", map[string]interface{}{"action": "haggle", "newPrice": 800})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, errors.CodeValidation, env.Error.Code)

	status, env = a.do(t, http.MethodPost, base+"/negotiate", "buyer", map[string]interface{}{"action": "offer", "newPrice": 800})
	require.Equal(t, http.StatusOK, status)
	result := decode[usecase.NegotiationResult](t, env.Data)
	assert.Equal(t, entity.DealNegotiating, result.Conversation.DealStatus)
	assert.Equal(t, entity.MessagePriceOffer, result.Message.MessageType)

	status, _ = a.do(t, http.MethodPost, base+"/commit", "seller", nil)
	require.Equal(t, http.StatusConflict, status)

	status, _ = a.do(t, http.MethodPost, base+"/negotiate", "seller", map[string]interface{}{"action": "accept", "newPrice": 800})
	require.Equal(t, http.StatusOK, status)

	status, env = a.do(t, http.MethodPost, base+"/commit", "buyer", nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, errors.CodeForbidden, env.Error.Code)

	status, env = a.do(t, http.MethodPost, base+"/commit", "seller", map[string]string{"listingId": "bike"})
	require.Equal(t, http.StatusOK, status)
	committed := decode[entity.Conversation](t, env.Data)
	assert.Equal(t, entity.DealCompleted, committed.DealStatus)
	require.NotNil(t, committed.NegotiatedPrice)
	assert.Equal(t, 800.0, *committed.NegotiatedPrice)

	status, env = a.do(t, http.MethodPost, base+"/cancel", "buyer", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, errors.CodeInvalidTransition, env.Error.Code)
}

func TestAuthAndDirectory(t *testing.T) {
	a := newApp(t)

	status, env := a.do(t, http.MethodGet, "/v1/conversations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, errors.CodeUnauthenticated, env.Error.Code)

	status, env = a.do(t, http.MethodGet, "/v1/counterparts", "seller", nil)
	require.Equal(t, http.StatusOK, status)
	views := decode[[]usecase.CounterpartView](t, env.Data)
	require.Len(t, views, 2)
	assert.Equal(t, "bea", views[0].Username)
	assert.Equal(t, "ben", views[1].Username)

	status, env = a.do(t, http.MethodPost, "/v1/dev/session", "", map[string]string{"userId": "buyer2"})
	require.Equal(t, http.StatusCreated, status)
	issued := decode[struct {
		Token string `json:"token"`
	}](t, env.Data)
	session, err := a.sessions.Verify(context.Background(), issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "buyer2", session.UserID)
	assert.Equal(t, entity.RoleBuyer, session.Role)

	status, _ = a.do(t, http.MethodPost, "/v1/dev/session", "", map[string]string{"userId": "ghost"})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = a.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
}

type event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (a *app) dial(t *testing.T, user string) *gorillaws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(a.url, "http") + "/ws?token=" + a.tokens[user]
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return a.manager.IsOnline(user) }, time.Second, 5*time.Millisecond)
	return conn
}

func send(t *testing.T, conn *gorillaws.Conn, eventType string, data interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": eventType, "data": data}))
}

// next reads until an event of eventType arrives, skipping personal channel
// updates and anything else in between.
func next(t *testing.T, conn *gorillaws.Conn, eventType string) event {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		var ev event
		require.NoError(t, conn.ReadJSON(&ev), "waiting for %s", eventType)
		if ev.Type == eventType {
			return ev
		}
	}
}

func errorCode(t *testing.T, ev event) string {
	t.Helper()
	return decode[ws.ErrorPayload](t, ev.Data).Code
}

func TestRealtimeGateway(t *testing.T) {
	a := newApp(t)
	id := a.startConversation(t)

	buyer := a.dial(t, "buyer")
	seller := a.dial(t, "seller")
	for _, conn := range []*gorillaws.Conn{buyer, seller} {
		send(t, conn, ws.EventJoinConversation, map[string]string{"conversationId": id})
		joined := next(t, conn, ws.EventJoinedConversation)
		assert.Equal(t, id, decode[ws.ConversationPayload](t, joined.Data).ConversationID)
	}

	send(t, buyer, ws.EventSendMessage, map[string]string{"conversationId": id, "text": "hello"})
	for _, conn := range []*gorillaws.Conn{buyer, seller} {
		ev := next(t, conn, ws.EventNewMessage)
		msg := decode[ws.NewMessagePayload](t, ev.Data).Message
		assert.Equal(t, "hello", msg.Text)
		assert.Equal(t, "buyer", msg.SenderID)
	}

	send(t, buyer, ws.EventNegotiatePrice, map[string]interface{}{"conversationId": id, "action": "offer", "newPrice": 500})
	ev := next(t, seller, ws.EventPriceNegotiation)
	negotiation := decode[ws.PriceNegotiationPayload](t, ev.Data)
	assert.Equal(t, entity.DealNegotiating, negotiation.DealStatus)
	require.NotNil(t, negotiation.Message)
	require.NotNil(t, negotiation.Message.PriceOffer)
	assert.Equal(t, 500.0, *negotiation.Message.PriceOffer)

	send(t, seller, ws.EventNegotiatePrice, map[string]interface{}{"conversationId": id, "action": "counter"})
	assert.Equal(t, errors.CodeValidation, errorCode(t, next(t, seller, ws.EventError)))

	send(t, seller, ws.EventTypingStart, map[string]string{"conversationId": id})
	ev = next(t, buyer, ws.EventUserTyping)
	typing := decode[ws.TypingPayload](t, ev.Data)
	assert.Equal(t, "seller", typing.UserID)
	assert.True(t, typing.IsTyping)

	send(t, buyer, ws.EventPing, nil)
	next(t, buyer, ws.EventPong)

	send(t, buyer, ws.EventSendMessage, map[string]string{"text": "no conversation"})
	assert.Equal(t, errors.CodeValidation, errorCode(t, next(t, buyer, ws.EventError)))

	send(t, buyer, "shout", map[string]string{})
	assert.Equal(t, errors.CodeBadRequest, errorCode(t, next(t, buyer, ws.EventError)))
}

func TestRealtimeGatewayRejectsOutsiders(t *testing.T) {
	a := newApp(t)
	id := a.startConversation(t)

	url := "ws" + strings.TrimPrefix(a.url, "http") + "/ws"
	_, resp, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, gorillaws.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = gorillaws.DefaultDialer.Dial(url+"?token=forged", nil)
	require.ErrorIs(t, err, gorillaws.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	outsider := a.dial(t, "buyer2")
	send(t, outsider, ws.EventJoinConversation, map[string]string{"conversationId": id})
	assert.Equal(t, errors.CodeForbidden, errorCode(t, next(t, outsider, ws.EventError)))

	send(t, outsider, ws.EventTypingStart, map[string]string{"conversationId": id})
	assert.Equal(t, errors.CodeForbidden, errorCode(t, next(t, outsider, ws.EventError)))

	send(t, outsider, ws.EventJoinConversation, map[string]string{"conversationId": "missing"})
	assert.Equal(t, errors.CodeNotFound, errorCode(t, next(t, outsider, ws.EventError)))

	// errors never drop the connection
	assert.True(t, a.manager.IsOnline("buyer2"))
}
