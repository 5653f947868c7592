package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/RichardoC/rosa/internal/config"
	"github.com/RichardoC/rosa/internal/conversation"
	"github.com/RichardoC/rosa/internal/db"
	"github.com/RichardoC/rosa/internal/llm"
	"github.com/RichardoC/rosa/internal/models"
	"github.com/RichardoC/rosa/internal/notebook"
	"github.com/RichardoC/rosa/internal/vault"
)

type fakeModel struct {
	reply string
	err   error
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

type testServer struct {
	router *mux.Router
	fs     *vault.Memory
	store  *conversation.Store
	model  *fakeModel
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Default()
	fs := vault.NewMemory()

	n := 0
	clock := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)
	store := conversation.New(fs, cfg.Folders.Conversations,
		conversation.WithLogger(zap.NewNop()),
		conversation.WithLocation(time.UTC),
		conversation.WithIDGenerator(func() string {
			n++
			return "conv-" + string(rune('0'+n))
		}),
		conversation.WithClock(func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		}))

	index, err := db.New(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { index.Close() })

	model := &fakeModel{reply: "Noted."}
	client := llm.NewClient(cfg, zap.NewNop(),
		llm.WithTokenCounter(llm.EstimateTokens),
		llm.WithModelFactory(func(p config.ProviderConfig, name string) (llms.Model, error) {
			return model, nil
		}))
	nb := notebook.New(fs, cfg.Folders.Templates, time.UTC, zap.NewNop())

	r := mux.NewRouter()
	NewHandler(cfg, store, index, client, nb, zap.NewNop()).Register(r)
	return &testServer{router: r, fs: fs, store: store, model: model}
}

func (s *testServer) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHandler_ConversationFlow(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/conversations", CreateConversationRequest{Title: "Planning"})
	require.Equal(t, http.StatusCreated, rec.Code)
	conv := decode[models.Conversation](t, rec)
	assert.Equal(t, "conv-1", conv.ID)
	assert.Equal(t, "Conversations/conv-1-Planning", conv.FolderPath)
	assert.Equal(t, "local", conv.ProviderID)
	assert.Equal(t, "llama3.1:8b", conv.Model)
	assert.Equal(t, "rosa", conv.PersonalityID)

	rec = s.do(t, http.MethodPost, "/api/conversations/conv-1/messages", MessageRequest{Content: "Buy tomatoes"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[MessageResponse](t, rec)
	require.NotNil(t, resp.Reply)
	assert.Equal(t, models.RoleUser, resp.Message.Role)
	assert.Equal(t, "Noted.", resp.Reply.Content)
	assert.Equal(t, models.RoleAssistant, resp.Reply.Role)

	rec = s.do(t, http.MethodGet, "/api/conversations/conv-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[models.Conversation](t, rec)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "Buy tomatoes", got.Messages[0].Content)

	rec = s.do(t, http.MethodGet, "/api/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]ConversationSummary](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].MessageCount)

	rec = s.do(t, http.MethodGet, "/api/search?q=tomatoes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	results := decode[[]db.SearchResult](t, rec)
	require.Len(t, results, 1)
	assert.Equal(t, "conv-1", results[0].ConversationID)
	assert.Equal(t, "Planning", results[0].ConversationTitle)
}

func TestHandler_UnknownConversation(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/conversations/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/conversations/missing/messages", MessageRequest{Content: "hi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, s.fs.Files())
}

func TestHandler_BadRequests(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/conversations", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/search", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/search?q=x&limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/conversations", CreateConversationRequest{Title: "x"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/conversations/conv-1/messages", MessageRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_ModelFailureKeepsUserMessage(t *testing.T) {
	s := newTestServer(t)
	s.model.err = errors.New("connection refused")

	rec := s.do(t, http.MethodPost, "/api/conversations", CreateConversationRequest{Title: "Planning"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/conversations/conv-1/messages", MessageRequest{Content: "hello"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	conv, ok := s.store.Get("conv-1")
	require.True(t, ok)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, models.RoleUser, conv.Messages[0].Role)
}

func TestHandler_Reload(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	rec := s.do(t, http.MethodPost, "/api/conversations", CreateConversationRequest{Title: "Planning"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/conversations/conv-1/messages", MessageRequest{Content: "hello"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, s.fs.CreateFile(ctx, "Conversations/broken/README.md", "no front matter"))

	rec = s.do(t, http.MethodPost, "/api/conversations/reload", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ReloadResponse](t, rec)
	assert.Equal(t, 1, resp.Loaded)
	assert.Len(t, resp.Skipped, 1)

	rec = s.do(t, http.MethodGet, "/api/search?q=hello", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]db.SearchResult](t, rec), 1)
}

func TestHandler_CreateNote(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.fs.CreateFile(ctx, "Templates/task.md", "- [ ] {{task}}"))

	noStamp := false
	body := CreateNoteRequest{Template: "task", FileName: "Water plants", Folder: "Tasks", Timestamp: &noStamp, Variables: map[string]string{"task": "Water plants"}}
	rec := s.do(t, http.MethodPost, "/api/notes", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Tasks/Water-plants.md", decode[map[string]string](t, rec)["path"])
	assert.Equal(t, "- [ ] Water plants", s.fs.Files()["Tasks/Water-plants.md"])

	rec = s.do(t, http.MethodPost, "/api/notes", body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	body.Template = "missing"
	rec = s.do(t, http.MethodPost, "/api/notes", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_CreateNoteDefaults(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.fs.CreateFile(ctx, "Templates/person.md", "# {{name}}"))
	require.NoError(t, s.fs.CreateFile(ctx, "Templates/project.md", "# {{name}}"))

	rec := s.do(t, http.MethodPost, "/api/notes", CreateNoteRequest{Template: "person", FileName: "Ada", Variables: map[string]string{"name": "Ada"}})
	require.Equal(t, http.StatusCreated, rec.Code)
	path := decode[map[string]string](t, rec)["path"]
	assert.Regexp(t, regexp.MustCompile(`^People/\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}-Ada\.md$`), path)

	noStamp := false
	rec = s.do(t, http.MethodPost, "/api/notes", CreateNoteRequest{Template: "project", FileName: "Garden", Kind: "task", Timestamp: &noStamp})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Tasks/Garden.md", decode[map[string]string](t, rec)["path"])

	rec = s.do(t, http.MethodPost, "/api/notes", CreateNoteRequest{Template: "missing", FileName: "x", Folder: "Projects"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	e, err := s.fs.Resolve(ctx, "Projects")
	require.NoError(t, err)
	assert.Equal(t, vault.KindNone, e.Kind)
}

func TestHandler_FormatNote(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.fs.CreateFile(ctx, "Thoughts/idea.md", "intro\n##Plan"))

	rec := s.do(t, http.MethodPost, "/api/notes/format", FormatNoteRequest{Path: "Thoughts/idea.md"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, rec)["changed"])
	assert.Equal(t, "intro\n\n## Plan", s.fs.Files()["Thoughts/idea.md"])

	rec = s.do(t, http.MethodPost, "/api/notes/format", FormatNoteRequest{Path: "Thoughts/idea.md"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode[map[string]any](t, rec)["changed"])

	rec = s.do(t, http.MethodPost, "/api/notes/format", FormatNoteRequest{Path: "Thoughts/missing.md"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/notes/format", FormatNoteRequest{Path: "../outside.md"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_SearchMalformedQuery(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/conversations", CreateConversationRequest{Title: "Planning"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/conversations/conv-1/messages", MessageRequest{Content: "Buy tomatoes"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/search?q=%22tomatoes", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
