// Package web exposes the dialogue manager over a small JSON API,
// mirroring the endpoints of the original browser prototype. The
// conversation id travels in the request body, a cookie, or falls back
// to the active conversation, in that order.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aimai-dev/aimai/internal/conversation"
	"github.com/aimai-dev/aimai/internal/dialogue"
)

const (
	cookieName      = "aimai_conversation"
	shutdownTimeout = 5 * time.Second
)

// Server binds the HTTP surface to a dialogue manager.
type Server struct {
	manager *dialogue.Manager
	logger  *zap.Logger
}

func NewServer(manager *dialogue.Manager, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{manager: manager, logger: logger}
}

// Handler returns the route table as an http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/message", s.handleMessage)
	mux.HandleFunc("GET /api/conversation", s.handleConversation)
	mux.HandleFunc("POST /api/conversation/new", s.handleNewConversation)
	return mux
}

// Run serves until ctx is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("http server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ─── Payloads ───

type messageRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type messageResponse struct {
	ConversationID     string `json:"conversation_id"`
	Reply              string `json:"reply"`
	State              string `json:"state"`
	ClarificationRound int    `json:"clarification_round"`
}

type conversationResponse struct {
	ConversationID string                `json:"conversation_id"`
	Turns          []conversation.Turn   `json:"turns"`
	Metadata       conversation.Metadata `json:"metadata"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ─── Handlers ───

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}

	id := req.ConversationID
	if id == "" {
		if c, err := r.Cookie(cookieName); err == nil {
			id = c.Value
		}
	}

	reply, err := s.manager.HandleUserMessage(r.Context(), id, req.Message)
	if err != nil {
		if errors.Is(err, dialogue.ErrEmptyMessage) {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		s.logger.Error("message handling failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.setCookie(w, reply.ConversationID)
	s.writeJSON(w, http.StatusOK, messageResponse{
		ConversationID:     reply.ConversationID,
		Reply:              reply.Text,
		State:              string(reply.State),
		ClarificationRound: reply.Round,
	})
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.manager.Current(r.Context())
	if err != nil {
		s.logger.Error("loading current conversation failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.setCookie(w, conv.ID)
	s.writeJSON(w, http.StatusOK, record(conv))
}

func (s *Server) handleNewConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.manager.StartNew(r.Context())
	if err != nil {
		s.logger.Error("resetting conversation failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.logger.Info("conversation reset", zap.String("conversation", conv.ID))
	s.setCookie(w, conv.ID)
	s.writeJSON(w, http.StatusOK, record(conv))
}

// ─── Helpers ───

func record(conv conversation.Conversation) conversationResponse {
	turns := conv.Turns
	if turns == nil {
		turns = []conversation.Turn{}
	}
	return conversationResponse{
		ConversationID: conv.ID,
		Turns:          turns,
		Metadata:       conv.Metadata,
	}
}

func (s *Server) setCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("encoding response failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}
