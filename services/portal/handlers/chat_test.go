package handlers

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeridianWorks/MeridianPortal/services/llm"
	"github.com/MeridianWorks/MeridianPortal/services/portal/dataset"
	"github.com/MeridianWorks/MeridianPortal/services/portal/session"
	"github.com/MeridianWorks/MeridianPortal/services/search"
)

// mockLLM scripts the streaming and non-streaming completions.
type mockLLM struct {
	mu          sync.Mutex
	fragments   []string
	invocations []llm.ToolInvocation
	streamErr   error
	chatReply   string
	chatErr     error

	streamCalls int
	chatCalls   int
	gotMessages [][]llm.Message
	gotParams   []llm.GenerationParams
}

func (m *mockLLM) Chat(_ context.Context, messages []llm.Message, _ llm.GenerationParams) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chatCalls++
	m.gotMessages = append(m.gotMessages, messages)
	return m.chatReply, m.chatErr
}

func (m *mockLLM) ChatStream(_ context.Context, messages []llm.Message, params llm.GenerationParams, callback llm.StreamCallback) ([]llm.ToolInvocation, error) {
	m.mu.Lock()
	m.streamCalls++
	m.gotMessages = append(m.gotMessages, messages)
	m.gotParams = append(m.gotParams, params)
	fragments := m.fragments
	m.mu.Unlock()

	for _, f := range fragments {
		if err := callback(f); err != nil {
			return nil, err
		}
	}
	return m.invocations, m.streamErr
}

// mockSearchTransport serves a canned search provider response.
type mockSearchTransport struct {
	status int
	body   string
	calls  int
}

func (t *mockSearchTransport) Do(_ *http.Request) (*http.Response, error) {
	t.calls++
	return &http.Response{
		StatusCode: t.status,
		Body:       io.NopCloser(strings.NewReader(t.body)),
		Header:     make(http.Header),
	}, nil
}

type chatFixture struct {
	llm    *mockLLM
	store  *session.MemoryStore
	router *gin.Engine
}

func newChatFixture(t *testing.T, mock *mockLLM, searchClient *search.Client) *chatFixture {
	t.Helper()
	t.Setenv("MERIDIAN_INSECURE_MEMORY", "true")
	gin.SetMode(gin.TestMode)

	store := session.NewMemoryStore()
	ds := dataset.NewStore(&dataset.Dataset{
		Records: []dataset.Record{{ID: "1", Name: "Ingest", Category: "pipeline", Tasks: "build"}},
		Text:    "ID: 1 | Name: Ingest | Category: pipeline | Tasks: build",
	})

	handler := NewChatHandler(mock, searchClient, store, ds, ChatConfig{Model: "test-model"})
	router := gin.New()
	router.POST("/chat", handler.HandleChat)

	return &chatFixture{llm: mock, store: store, router: router}
}

func postChat(t *testing.T, router *gin.Engine, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleChat_EmptyMessageRejectedBeforeProviderCall(t *testing.T) {
	mock := &mockLLM{}
	fx := newChatFixture(t, mock, nil)

	rec := postChat(t, fx.router, `{"message": ""}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, mock.streamCalls)
	assert.Equal(t, 0, mock.chatCalls)
}

func TestHandleChat_MalformedJSON(t *testing.T) {
	mock := &mockLLM{}
	fx := newChatFixture(t, mock, nil)

	rec := postChat(t, fx.router, `{not json`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid request body")
	assert.Equal(t, 0, mock.streamCalls)
}

func TestHandleChat_StreamsFragmentsAndPersists(t *testing.T) {
	mock := &mockLLM{fragments: []string{"Hello", " world", "!"}}
	fx := newChatFixture(t, mock, nil)

	rec := postChat(t, fx.router, `{"message": "hi", "sessionId": "sess-1"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello world!", rec.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	turns, err := fx.store.History(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, session.RoleUser, turns[0].Role)
	assert.Equal(t, "hi", turns[0].Content)
	assert.Equal(t, session.RoleAssistant, turns[1].Role)
	assert.Equal(t, "Hello world!", turns[1].Content)
}

func TestHandleChat_PromptIncludesDatasetAndHistory(t *testing.T) {
	mock := &mockLLM{fragments: []string{"First reply"}}
	fx := newChatFixture(t, mock, nil)

	rec := postChat(t, fx.router, `{"message": "first question", "sessionId": "sess-2"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postChat(t, fx.router, `{"message": "second question", "sessionId": "sess-2"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, mock.gotMessages, 2)
	second := mock.gotMessages[1]

	require.GreaterOrEqual(t, len(second), 4)
	assert.Equal(t, llm.RoleSystem, second[0].Role)
	assert.Contains(t, second[0].Content, "project dataset")

	assert.Equal(t, llm.RoleUser, second[1].Role)
	assert.Equal(t, "first question", second[1].Content)
	assert.Equal(t, llm.RoleAssistant, second[2].Role)
	assert.Equal(t, "First reply", second[2].Content)

	last := second[len(second)-1]
	assert.Equal(t, llm.RoleUser, last.Role)
	assert.Contains(t, last.Content, "ID: 1 | Name: Ingest")
	assert.Contains(t, last.Content, "second question")
}

func TestHandleChat_PreStreamFailureReturnsJSONError(t *testing.T) {
	mock := &mockLLM{streamErr: assert.AnError}
	fx := newChatFixture(t, mock, nil)

	rec := postChat(t, fx.router, `{"message": "hi"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "chat stream failed")
}

func TestHandleChat_MidStreamFailureAppendsMarker(t *testing.T) {
	mock := &mockLLM{fragments: []string{"partial"}, streamErr: assert.AnError}
	fx := newChatFixture(t, mock, nil)

	rec := postChat(t, fx.router, `{"message": "hi", "sessionId": "sess-3"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "partial"+StreamErrorMarker, rec.Body.String())

	// The failed exchange is not persisted.
	turns, err := fx.store.History(context.Background(), "sess-3")
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestHandleChat_SearchToolSummaryStreamed(t *testing.T) {
	transport := &mockSearchTransport{
		status: http.StatusOK,
		body:   `{"results": [{"title": "Go", "url": "https://go.dev", "snippet": "The Go language."}]}`,
	}
	searchClient := search.NewClientWithHTTP(transport, "https://search.example.com/v1", "key")

	mock := &mockLLM{
		fragments:   []string{"From the dataset."},
		invocations: []llm.ToolInvocation{{ID: "call_1", Name: "search_web", Arguments: `{"query": "go language"}`}},
		chatReply:   "Go is a language built at Google.",
	}
	fx := newChatFixture(t, mock, searchClient)

	rec := postChat(t, fx.router, `{"message": "tell me", "sessionId": "sess-4"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	want := "From the dataset.\n\nGo is a language built at Google."
	assert.Equal(t, want, rec.Body.String())
	assert.Equal(t, 1, transport.calls)
	assert.Equal(t, 1, mock.chatCalls)

	// Stored reply equals the concatenation of everything streamed.
	turns, err := fx.store.History(context.Background(), "sess-4")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, want, turns[1].Content)
}

func TestHandleChat_MalformedToolArgumentsSkipped(t *testing.T) {
	transport := &mockSearchTransport{status: http.StatusOK, body: `{"results": []}`}
	searchClient := search.NewClientWithHTTP(transport, "https://search.example.com/v1", "key")

	mock := &mockLLM{
		fragments:   []string{"Reply."},
		invocations: []llm.ToolInvocation{{ID: "call_1", Name: "search_web", Arguments: `{"query": `}},
	}
	fx := newChatFixture(t, mock, searchClient)

	rec := postChat(t, fx.router, `{"message": "hi"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Reply.", rec.Body.String())
	assert.Equal(t, 0, transport.calls)
	assert.Equal(t, 0, mock.chatCalls)
}

func TestHandleChat_SearchFailureStreamsApology(t *testing.T) {
	transport := &mockSearchTransport{status: http.StatusBadGateway, body: `upstream exploded`}
	searchClient := search.NewClientWithHTTP(transport, "https://search.example.com/v1", "key")

	mock := &mockLLM{
		fragments:   []string{"Partial answer."},
		invocations: []llm.ToolInvocation{{ID: "call_1", Name: "search_web", Arguments: `{"query": "go"}`}},
	}
	fx := newChatFixture(t, mock, searchClient)

	rec := postChat(t, fx.router, `{"message": "hi", "sessionId": "sess-5"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	want := "Partial answer." + searchApology
	assert.Equal(t, want, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "upstream exploded")

	turns, err := fx.store.History(context.Background(), "sess-5")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, want, turns[1].Content)
}

func TestHandleChat_ToolOnlyOfferedWhenSearchConfigured(t *testing.T) {
	mock := &mockLLM{fragments: []string{"ok"}}
	fx := newChatFixture(t, mock, nil)

	rec := postChat(t, fx.router, `{"message": "hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, mock.gotParams, 1)
	assert.Empty(t, mock.gotParams[0].ToolDefinitions)

	transport := &mockSearchTransport{status: http.StatusOK, body: `{"results": []}`}
	searchClient := search.NewClientWithHTTP(transport, "https://search.example.com/v1", "key")
	mock = &mockLLM{fragments: []string{"ok"}}
	fx = newChatFixture(t, mock, searchClient)

	rec = postChat(t, fx.router, `{"message": "hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, mock.gotParams, 1)
	require.Len(t, mock.gotParams[0].ToolDefinitions, 1)
	assert.Equal(t, "search_web", mock.gotParams[0].ToolDefinitions[0].Name)
}

func TestHandleChat_GeneratedSessionIDWhenAbsent(t *testing.T) {
	mock := &mockLLM{fragments: []string{"hello"}}
	fx := newChatFixture(t, mock, nil)

	rec := postChat(t, fx.router, `{"message": "hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	infos, err := fx.store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.NotEmpty(t, infos[0].SessionID)
}
