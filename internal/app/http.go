package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"opsboard/api/internal/backup"
	"opsboard/api/internal/lane"
	"opsboard/api/internal/search"
	"opsboard/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleSignUp(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleSignIn(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userName":      session.DisplayName,
			"userId":        session.UserID,
			"email":         session.Email,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "AUTH_REQUIRED", "Refresh token invalid", nil)
			return
		}
		writeJSON(w, http.StatusOK, sessionJSON(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/board" {
		view, err := s.service.BoardView(r.Context(), session.UserID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, boardViewJSON(view))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/board/snapshot" {
		result, err := s.service.SnapshotBoard(r.Context(), session.UserID, session.DisplayName)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		if result.Unchanged {
			writeJSON(w, http.StatusOK, map[string]any{"ok": true, "unchanged": true})
			return
		}
		payload := map[string]any{"ok": true, "commit": commitJSON(result.Commit)}
		if result.ObjectName != "" {
			payload["object"] = result.ObjectName
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/board/snapshots" {
		limit := 20
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				limit = parsed
			}
		}
		history, err := s.service.SnapshotHistory(r.Context(), session.UserID, limit)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		items := make([]map[string]any, 0, len(history))
		for _, info := range history {
			items = append(items, commitJSON(info))
		}
		writeJSON(w, http.StatusOK, map[string]any{"snapshots": items})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/boards" {
		var body struct {
			Title string `json:"title"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		board, warning, err := s.service.CreateBoard(r.Context(), session.UserID, body.Title)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		payload := map[string]any{"ok": true, "board": boardJSON(board)}
		if warning != "" {
			payload["warning"] = warning
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/cards" {
		boardID := strings.TrimSpace(r.URL.Query().Get("boardId"))
		if boardID == "" {
			board, err := s.service.ResolveWorkingBoard(r.Context(), session.UserID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			boardID = board.ID
		}
		byCreatedAt := r.URL.Query().Get("byCreatedAt") == "true"
		cards, err := s.service.ListCards(r.Context(), session.UserID, boardID, byCreatedAt)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		items := make([]map[string]any, 0, len(cards))
		for _, card := range cards {
			items = append(items, cardJSON(card))
		}
		writeJSON(w, http.StatusOK, map[string]any{"cards": items})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/cards" {
		var body cardBody
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		card, err := s.service.CreateCard(r.Context(), session.UserID, body.toInput())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "card": cardJSON(card)})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/cards/bulk" {
		var body struct {
			Cards []cardBody `json:"cards"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		inputs := make([]CreateCardInput, 0, len(body.Cards))
		for _, item := range body.Cards {
			inputs = append(inputs, item.toInput())
		}
		inserted, err := s.service.CreateCards(r.Context(), session.UserID, inputs)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "inserted": inserted})
		return
	}

	if r.Method == http.MethodDelete && r.URL.Path == "/api/cards" {
		var body struct {
			IDs []string `json:"ids"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		deleted, err := s.service.DeleteCardsBatch(r.Context(), session.UserID, body.IDs)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "deleted": deleted})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		boardID := strings.TrimSpace(r.URL.Query().Get("boardId"))
		limit := 20
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "INVALID_ARGUMENT", "limit must be an integer", nil)
				return
			}
			limit = parsed
		}
		offset := 0
		if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "INVALID_ARGUMENT", "offset must be an integer", nil)
				return
			}
			offset = parsed
		}
		searchService := s.service.Search()
		if searchService == nil {
			writeJSON(w, http.StatusOK, search.Response{Results: []search.Result{}, Query: q})
			return
		}
		payload := searchService.Search(search.Query{
			Text:    q,
			OwnerID: session.UserID,
			BoardID: boardID,
			Limit:   limit,
			Offset:  offset,
		})
		writeJSON(w, http.StatusOK, payload)
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "cards" && parts[3] == "move" && r.Method == http.MethodPost {
		cardID := parts[2]
		var body struct {
			ToColumnID string `json:"toColumnId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.MoveCard(r.Context(), session.UserID, cardID, body.ToColumnID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "cards" {
		cardID := parts[2]
		switch r.Method {
		case http.MethodPatch:
			var body patchBody
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if err := s.service.UpdateCard(r.Context(), session.UserID, cardID, body.toPatch()); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		case http.MethodDelete:
			if err := s.service.DeleteCard(r.Context(), session.UserID, cardID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// cardBody is the wire shape for card creation.
type cardBody struct {
	BoardID     string   `json:"boardId"`
	ColumnID    string   `json:"columnId"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Labels      []string `json:"labels"`
	Position    int      `json:"position"`
	Status      string   `json:"status"`
	Assignee    string   `json:"assignee"`
}

func (b cardBody) toInput() CreateCardInput {
	return CreateCardInput{
		BoardID:     b.BoardID,
		ColumnID:    b.ColumnID,
		Title:       b.Title,
		Description: b.Description,
		Labels:      b.Labels,
		Position:    b.Position,
		Status:      b.Status,
		Assignee:    b.Assignee,
	}
}

// patchBody mirrors store.CardPatch on the wire; absent fields stay nil and
// leave the stored value untouched.
type patchBody struct {
	ColumnID    *string   `json:"columnId"`
	Description *string   `json:"description"`
	Labels      *[]string `json:"labels"`
	Status      *string   `json:"status"`
	Assignee    *string   `json:"assignee"`
	Position    *int      `json:"position"`
}

func (b patchBody) toPatch() store.CardPatch {
	return store.CardPatch{
		ColumnID:    b.ColumnID,
		Description: b.Description,
		Labels:      b.Labels,
		Status:      b.Status,
		Assignee:    b.Assignee,
		Position:    b.Position,
	}
}

func sessionJSON(session Session) map[string]any {
	return map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.DisplayName,
		"email":        session.Email,
		"expiresAt":    session.ExpiresAt.Unix(),
	}
}

func boardJSON(board store.Board) map[string]any {
	return map[string]any{
		"id":        board.ID,
		"title":     board.Title,
		"createdAt": board.CreatedAt,
	}
}

func columnJSON(column store.Column) map[string]any {
	return map[string]any{
		"id":       column.ID,
		"boardId":  column.BoardID,
		"title":    column.Title,
		"position": column.Position,
	}
}

func cardJSON(card store.Card) map[string]any {
	labels := card.Labels
	if labels == nil {
		labels = []string{}
	}
	return map[string]any{
		"id":          card.ID,
		"boardId":     card.BoardID,
		"columnId":    card.ColumnID,
		"title":       card.Title,
		"description": card.Description,
		"position":    card.Position,
		"labels":      labels,
		"status":      card.Status,
		"assignee":    card.Assignee,
		"createdAt":   card.CreatedAt,
	}
}

func commitJSON(info backup.CommitInfo) map[string]any {
	return map[string]any{
		"hash":      info.Hash,
		"message":   info.Message,
		"author":    info.Author,
		"createdAt": info.CreatedAt,
	}
}

func boardViewJSON(view BoardView) map[string]any {
	columns := make([]map[string]any, 0, len(view.Columns))
	for _, column := range view.Columns {
		columns = append(columns, columnJSON(column))
	}
	cards := make([]map[string]any, 0, len(view.Cards))
	for _, card := range view.Cards {
		cards = append(cards, cardJSON(card))
	}
	lanes := make(map[string][]map[string]any, len(view.Lanes))
	for laneName, laneCards := range view.Lanes {
		items := make([]map[string]any, 0, len(laneCards))
		for _, card := range laneCards {
			items = append(items, cardJSON(card))
		}
		lanes[string(laneName)] = items
	}
	for _, known := range []lane.Lane{lane.LaneNext, lane.LaneDoing, lane.LaneBlocked, lane.LaneDone} {
		if _, ok := lanes[string(known)]; !ok {
			lanes[string(known)] = []map[string]any{}
		}
	}
	return map[string]any{
		"board":   boardJSON(view.Board),
		"columns": columns,
		"cards":   cards,
		"lanes":   lanes,
	}
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.SignUp(r.Context(), body.Email, body.Password, body.DisplayName)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, sessionJSON(session))
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, sessionJSON(session))
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "AUTH_REQUIRED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "AUTH_REQUIRED", "Unauthorized", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"ok":    false,
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "STORE_ERROR", "Server error", nil
}
