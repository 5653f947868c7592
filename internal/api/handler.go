package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/RichardoC/rosa/internal/config"
	"github.com/RichardoC/rosa/internal/conversation"
	"github.com/RichardoC/rosa/internal/db"
	"github.com/RichardoC/rosa/internal/llm"
	"github.com/RichardoC/rosa/internal/models"
	"github.com/RichardoC/rosa/internal/notebook"
	"github.com/RichardoC/rosa/internal/vault"
)

// Index is the search index kept alongside the vault.
type Index interface {
	IndexMessage(ctx context.Context, conv models.Conversation, msg models.Message) error
	Rebuild(ctx context.Context, convs []models.Conversation) error
	Search(ctx context.Context, query string, limit int) ([]db.SearchResult, error)
}

type Handler struct {
	cfg      *config.Config
	store    *conversation.Store
	index    Index
	llm      *llm.Client
	notebook *notebook.Notebook
	logger   *zap.Logger
}

func NewHandler(cfg *config.Config, store *conversation.Store, index Index, llmClient *llm.Client, nb *notebook.Notebook, logger *zap.Logger) *Handler {
	return &Handler{
		cfg:      cfg,
		store:    store,
		index:    index,
		llm:      llmClient,
		notebook: nb,
		logger:   logger,
	}
}

func (h *Handler) Register(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/conversations", h.CreateConversation).Methods(http.MethodPost)
	api.HandleFunc("/conversations", h.ListConversations).Methods(http.MethodGet)
	api.HandleFunc("/conversations/reload", h.Reload).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}", h.GetConversation).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}/messages", h.HandleMessage).Methods(http.MethodPost)
	api.HandleFunc("/search", h.Search).Methods(http.MethodGet)
	api.HandleFunc("/notes", h.CreateNote).Methods(http.MethodPost)
	api.HandleFunc("/notes/format", h.FormatNote).Methods(http.MethodPost)
}

type CreateConversationRequest struct {
	Title         string `json:"title"`
	ProviderID    string `json:"provider_id"`
	Model         string `json:"model"`
	PersonalityID string `json:"personality_id"`
}

type MessageRequest struct {
	Content string `json:"content"`
}

type MessageResponse struct {
	Message *models.Message `json:"message"`
	Reply   *models.Message `json:"reply,omitempty"`
}

type ConversationSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	FolderPath   string    `json:"folder_path"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

type ReloadResponse struct {
	Loaded  int      `json:"loaded"`
	Skipped []string `json:"skipped"`
}

// CreateNoteRequest names the template and the note to create from it.
// Without a folder the note goes to the configured folder for Kind, or for
// the template name when Kind is empty. Timestamp set to false turns off the
// file name timestamp for this note.
type CreateNoteRequest struct {
	Template  string            `json:"template"`
	FileName  string            `json:"file_name"`
	Folder    string            `json:"folder"`
	Kind      string            `json:"kind"`
	Timestamp *bool             `json:"timestamp"`
	Variables map[string]string `json:"variables"`
}

type FormatNoteRequest struct {
	Path string `json:"path"`
}

func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	providerID, model := req.ProviderID, req.Model
	if p, ok := h.cfg.Provider(providerID); ok {
		providerID = p.ID
		if model == "" {
			model = p.DefaultModel
		}
	}
	personalityID := req.PersonalityID
	if p, ok := h.cfg.Personality(personalityID); ok {
		personalityID = p.ID
	}

	conv, err := h.store.Start(r.Context(), req.Title,
		conversation.WithProvider(providerID, model),
		conversation.WithPersonality(personalityID))
	if err != nil {
		h.logger.Error("Failed to create conversation", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Failed to create conversation")
		return
	}
	h.writeJSON(w, http.StatusCreated, conv)
}

func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	all := h.store.All()
	summaries := make([]ConversationSummary, 0, len(all))
	for _, c := range all {
		summaries = append(summaries, ConversationSummary{
			ID:           c.ID,
			Title:        c.Title,
			FolderPath:   c.FolderPath,
			CreatedAt:    c.CreatedAt,
			UpdatedAt:    c.UpdatedAt,
			MessageCount: len(c.Messages),
		})
	}
	h.logger.Debug("Retrieved conversations",
		zap.Int("count", len(summaries)),
		zap.String("path", r.URL.Path))
	h.writeJSON(w, http.StatusOK, summaries)
}

func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.store.Get(mux.Vars(r)["id"])
	if !ok {
		h.writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	h.writeJSON(w, http.StatusOK, conv)
}

// HandleMessage stores the user's message, asks the conversation's provider
// for a reply and stores that too.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	userMsg, err := h.addMessage(r.Context(), id, models.RoleUser, req.Content)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	conv, _ := h.store.Get(id)
	svc, err := h.llm.Service(conv.ProviderID, conv.Model)
	if err != nil {
		h.logger.Warn("No usable provider", zap.String("conversationID", id), zap.Error(err))
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	personality, _ := h.cfg.Personality(conv.PersonalityID)

	content, err := svc.Reply(r.Context(), conv.Messages, personality.SystemPrompt)
	if err != nil {
		h.logger.Error("Failed to process message", zap.String("conversationID", id), zap.Error(err))
		h.writeError(w, http.StatusBadGateway, "Failed to get AI response")
		return
	}

	reply, err := h.addMessage(r.Context(), id, models.RoleAssistant, content)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, MessageResponse{Message: &userMsg, Reply: &reply})
}

func (h *Handler) addMessage(ctx context.Context, id string, role models.Role, content string) (models.Message, error) {
	msg, err := h.store.AddMessage(ctx, id, role, content)
	if err != nil {
		return msg, err
	}
	if h.index != nil {
		conv, _ := h.store.Get(id)
		if err := h.index.IndexMessage(ctx, conv, msg); err != nil {
			h.logger.Warn("Failed to index message", zap.String("messageID", msg.ID), zap.Error(err))
		}
	}
	return msg, nil
}

// Reload re-reads every conversation folder and rebuilds the search index.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	report, err := h.store.LoadAll(r.Context())
	if err != nil {
		h.logger.Error("Failed to load conversations", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Failed to load conversations")
		return
	}
	if h.index != nil {
		if err := h.index.Rebuild(r.Context(), h.store.All()); err != nil {
			h.logger.Warn("Failed to rebuild search index", zap.Error(err))
		}
	}

	resp := ReloadResponse{Loaded: report.Loaded, Skipped: []string{}}
	for _, err := range multierr.Errors(report.Skipped) {
		resp.Skipped = append(resp.Skipped, err.Error())
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "Query parameter 'q' is required")
		return
	}
	if h.index == nil {
		h.writeError(w, http.StatusServiceUnavailable, "Search index disabled")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	results, err := h.index.Search(r.Context(), query, limit)
	if errors.Is(err, db.ErrInvalidQuery) {
		h.writeError(w, http.StatusBadRequest, "Invalid search query")
		return
	}
	if err != nil {
		h.logger.Error("Failed to search messages", zap.String("query", query), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, results)
}

func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var req CreateNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Template == "" || req.FileName == "" {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	folder := req.Folder
	if folder == "" {
		kind := req.Kind
		if kind == "" {
			kind = req.Template
		}
		folder = h.cfg.Folders.Target(kind)
	}
	fileName := h.notebook.FileName(req.FileName, req.Timestamp == nil || *req.Timestamp)

	e, err := h.notebook.CreateFromTemplate(r.Context(), req.Template, fileName, folder, req.Variables)
	switch {
	case errors.Is(err, notebook.ErrTemplateNotFound):
		h.writeError(w, http.StatusNotFound, "Template not found")
		return
	case errors.Is(err, vault.ErrExists):
		h.writeError(w, http.StatusConflict, "Note already exists")
		return
	case errors.Is(err, vault.ErrOutsideRoot):
		h.writeError(w, http.StatusBadRequest, "Invalid folder")
		return
	case err != nil:
		h.logger.Error("Failed to create note", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Failed to create note")
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"path": e.Path})
}

func (h *Handler) FormatNote(w http.ResponseWriter, r *http.Request) {
	var req FormatNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	changed, err := h.notebook.Format(r.Context(), req.Path)
	switch {
	case errors.Is(err, vault.ErrNotExist):
		h.writeError(w, http.StatusNotFound, "Note not found")
		return
	case errors.Is(err, vault.ErrOutsideRoot):
		h.writeError(w, http.StatusBadRequest, "Invalid path")
		return
	case err != nil:
		h.logger.Error("Failed to format note", zap.String("path", req.Path), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Failed to format note")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"path": req.Path, "changed": changed})
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "Conversation not found")
	case errors.Is(err, conversation.ErrInvalidRole):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("Failed to save message", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Failed to save message")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}
