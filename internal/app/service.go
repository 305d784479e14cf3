package app

import (
	"context"
	"strings"
	"time"

	"opsboard/api/internal/auth"
	"opsboard/api/internal/authpw"
	"opsboard/api/internal/backup"
	"opsboard/api/internal/config"
	"opsboard/api/internal/lane"
	"opsboard/api/internal/search"
	"opsboard/api/internal/store"
	"opsboard/api/internal/util"
)

// WorkingBoardTitle is the conventional title of the single board every
// owner works against. Owners without a "Master" board fall back to their
// first board.
const WorkingBoardTitle = "Master"

// DefaultColumns is the starter column set created with every new board.
var DefaultColumns = []struct {
	Title    string
	Position int
}{
	{Title: "Backlog", Position: 0},
	{Title: "Doing", Position: 1},
	{Title: "Done", Position: 2},
}

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Email        string
	DisplayName  string
	JTI          string
	ExpiresAt    time.Time
}

type CreateCardInput struct {
	BoardID     string
	ColumnID    string
	Title       string
	Description string
	Labels      []string
	Position    int
	Status      string
	Assignee    string
}

// BoardView is the read surface the dashboard renders: the working board,
// its columns in position order, all cards, and the derived lane groupings.
type BoardView struct {
	Board   store.Board
	Columns []store.Column
	Cards   []store.Card
	Lanes   map[lane.Lane][]store.Card
}

type dataStore interface {
	ListBoards(ctx context.Context, ownerID string) ([]store.Board, error)
	InsertBoard(ctx context.Context, board store.Board) (store.Board, error)
	InsertColumns(ctx context.Context, columns []store.Column) error
	ListColumns(ctx context.Context, ownerID, boardID string) ([]store.Column, error)
	ListCards(ctx context.Context, ownerID, boardID string, byCreatedAt bool) ([]store.Card, error)
	GetCard(ctx context.Context, ownerID, cardID string) (store.Card, error)
	InsertCard(ctx context.Context, card store.Card) (store.Card, error)
	InsertCards(ctx context.Context, cards []store.Card) (int, error)
	UpdateCard(ctx context.Context, ownerID, cardID string, patch store.CardPatch) (bool, error)
	DeleteCard(ctx context.Context, ownerID, cardID string) (bool, error)
	DeleteCards(ctx context.Context, ownerID string, cardIDs []string) (int, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	identity *authpw.Service
	search   *search.Service
	archive  *backup.Archive
	uploader *backup.Uploader
}

func New(cfg config.Config, data dataStore, searchService *search.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    data,
		identity: authpw.NewService(data),
		search:   searchService,
	}
}

// NewWithSessionStore wires a Redis-backed refresh-token store; without one,
// sign-in still works but refresh tokens are not issued.
func NewWithSessionStore(cfg config.Config, data dataStore, sessions sessionStore, searchService *search.Service) *Service {
	service := New(cfg, data, searchService)
	service.sessions = sessions
	return service
}

func (s *Service) Identity() *authpw.Service {
	return s.identity
}

func (s *Service) Search() *search.Service {
	return s.search
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// --- sessions ---

func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (Session, error) {
	user, err := s.identity.SignUp(ctx, authpw.SignUpRequest{Email: email, Password: password, DisplayName: displayName})
	if err != nil {
		return Session{}, invalidArgument(err.Error())
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.identity.SignIn(ctx, authpw.SignInRequest{Email: email, Password: password})
	if err != nil {
		return Session{}, authRequired(err.Error())
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	jti := util.NewID("jti")
	expiresAt := time.Now().Add(s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		Name:  user.DisplayName,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, storeError(err)
	}

	session := Session{
		Token:       token,
		UserID:      user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		JTI:         jti,
		ExpiresAt:   expiresAt,
	}

	if s.sessions != nil {
		refreshToken := util.NewID("")
		if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refreshToken), user, time.Now().Add(s.cfg.RefreshTTL)); err != nil {
			return Session{}, storeError(err)
		}
		session.RefreshToken = refreshToken
	}
	return session, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, authRequired("invalid or expired session")
	}
	return Session{
		Token:       token,
		UserID:      claims.Sub,
		Email:       claims.Email,
		DisplayName: claims.Name,
		JTI:         claims.JTI,
		ExpiresAt:   time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if s.sessions == nil {
		return Session{}, authRequired("refresh tokens not configured")
	}
	user, err := s.sessions.LookupRefreshSession(ctx, auth.HashToken(refreshToken))
	if err != nil {
		return Session{}, authRequired("refresh token invalid")
	}
	// Rotate: revoke the presented token before issuing a new pair.
	_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	return s.issueSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if s.sessions == nil || refreshToken == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

// --- board resolver ---

// ResolveWorkingBoard finds the owner's "Master" board, falling back to the
// first board when none carries that title. Owners with zero boards get a
// not-found; the caller decides whether to create one.
func (s *Service) ResolveWorkingBoard(ctx context.Context, ownerID string) (store.Board, error) {
	boards, err := s.store.ListBoards(ctx, ownerID)
	if err != nil {
		return store.Board{}, wrapStoreErr(err, "board not found")
	}
	if len(boards) == 0 {
		return store.Board{}, notFound("no board found")
	}
	for _, board := range boards {
		if board.Title == WorkingBoardTitle {
			return board, nil
		}
	}
	return boards[0], nil
}

func (s *Service) ListColumns(ctx context.Context, ownerID, boardID string) ([]store.Column, error) {
	columns, err := s.store.ListColumns(ctx, ownerID, boardID)
	if err != nil {
		return nil, wrapStoreErr(err, "board not found")
	}
	return columns, nil
}

// ColumnByTitle selects the column with the given title. When the title is
// absent it falls back to the first column in position order; writing to the
// wrong column silently is the risk, so callers must be aware of the
// fallback. Returns false only when the board has no columns at all.
func ColumnByTitle(columns []store.Column, title string) (store.Column, bool) {
	for _, col := range columns {
		if col.Title == title {
			return col, true
		}
	}
	if len(columns) > 0 {
		return columns[0], true
	}
	return store.Column{}, false
}

// CreateBoard inserts a board together with the starter columns. A failure
// inserting the columns is a partial success: the board exists, so the
// caller gets it back along with a warning instead of an error.
func (s *Service) CreateBoard(ctx context.Context, ownerID, title string) (store.Board, string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return store.Board{}, "", invalidArgument("title is required")
	}
	if ownerID == "" {
		return store.Board{}, "", authRequired("not authenticated")
	}

	board, err := s.store.InsertBoard(ctx, store.Board{OwnerID: ownerID, Title: title})
	if err != nil {
		return store.Board{}, "", wrapStoreErr(err, "board not found")
	}

	columns := make([]store.Column, 0, len(DefaultColumns))
	for _, col := range DefaultColumns {
		columns = append(columns, store.Column{
			BoardID:  board.ID,
			OwnerID:  ownerID,
			Title:    col.Title,
			Position: col.Position,
		})
	}
	if err := s.store.InsertColumns(ctx, columns); err != nil {
		return board, err.Error(), nil
	}
	return board, "", nil
}

// --- card repository ---

func (s *Service) ListCards(ctx context.Context, ownerID, boardID string, byCreatedAt bool) ([]store.Card, error) {
	cards, err := s.store.ListCards(ctx, ownerID, boardID, byCreatedAt)
	if err != nil {
		return nil, wrapStoreErr(err, "board not found")
	}
	return cards, nil
}

// CreateCard inserts a single card. It does not deduplicate titles: ad hoc
// creation may legitimately repeat a title that already exists; only the
// bulk seeding path pre-filters against existing titles.
func (s *Service) CreateCard(ctx context.Context, ownerID string, input CreateCardInput) (store.Card, error) {
	if err := validateCardInput(ownerID, input); err != nil {
		return store.Card{}, err
	}

	card, err := s.store.InsertCard(ctx, store.Card{
		BoardID:     input.BoardID,
		ColumnID:    input.ColumnID,
		OwnerID:     ownerID,
		Title:       strings.TrimSpace(input.Title),
		Description: input.Description,
		Position:    input.Position,
		Labels:      input.Labels,
		Status:      input.Status,
		Assignee:    input.Assignee,
	})
	if err != nil {
		return store.Card{}, wrapStoreErr(err, "board or column not found")
	}
	s.indexCard(card)
	return card, nil
}

// CreateCards bulk-inserts cards in one store request; the seeding path
// depends on that being a single write.
func (s *Service) CreateCards(ctx context.Context, ownerID string, inputs []CreateCardInput) (int, error) {
	cards := make([]store.Card, 0, len(inputs))
	for _, input := range inputs {
		if err := validateCardInput(ownerID, input); err != nil {
			return 0, err
		}
		cards = append(cards, store.Card{
			BoardID:     input.BoardID,
			ColumnID:    input.ColumnID,
			OwnerID:     ownerID,
			Title:       strings.TrimSpace(input.Title),
			Description: input.Description,
			Position:    input.Position,
			Labels:      input.Labels,
			Status:      input.Status,
			Assignee:    input.Assignee,
		})
	}
	inserted, err := s.store.InsertCards(ctx, cards)
	if err != nil {
		return 0, wrapStoreErr(err, "board or column not found")
	}
	return inserted, nil
}

func validateCardInput(ownerID string, input CreateCardInput) error {
	if ownerID == "" {
		return authRequired("not authenticated")
	}
	if strings.TrimSpace(input.BoardID) == "" || strings.TrimSpace(input.ColumnID) == "" {
		return invalidArgument("board and column are required")
	}
	if strings.TrimSpace(input.Title) == "" {
		return invalidArgument("title is required")
	}
	return nil
}

// MoveCard reassigns a card's column and resets its position to the top of
// the column. The target column must belong to the card's board; a column
// from another board is treated as not found.
func (s *Service) MoveCard(ctx context.Context, ownerID, cardID, toColumnID string) error {
	if strings.TrimSpace(cardID) == "" || strings.TrimSpace(toColumnID) == "" {
		return invalidArgument("card and target column are required")
	}

	card, err := s.store.GetCard(ctx, ownerID, cardID)
	if err != nil {
		return wrapStoreErr(err, "card not found")
	}

	columns, err := s.store.ListColumns(ctx, ownerID, card.BoardID)
	if err != nil {
		return wrapStoreErr(err, "board not found")
	}
	valid := false
	for _, col := range columns {
		if col.ID == toColumnID {
			valid = true
			break
		}
	}
	if !valid {
		return notFound("column not found")
	}

	position := 0
	updated, err := s.store.UpdateCard(ctx, ownerID, cardID, store.CardPatch{
		ColumnID: &toColumnID,
		Position: &position,
	})
	if err != nil {
		return wrapStoreErr(err, "card not found")
	}
	if !updated {
		return notFound("card not found")
	}
	s.indexCard(cardWithColumn(card, toColumnID))
	return nil
}

// UpdateCard applies a partial edit. The patch type carries no board or
// owner fields, so those cannot change through this path.
func (s *Service) UpdateCard(ctx context.Context, ownerID, cardID string, patch store.CardPatch) error {
	if strings.TrimSpace(cardID) == "" {
		return invalidArgument("card is required")
	}
	updated, err := s.store.UpdateCard(ctx, ownerID, cardID, patch)
	if err != nil {
		return wrapStoreErr(err, "card not found")
	}
	if !updated {
		return notFound("card not found")
	}
	if s.search != nil {
		if card, err := s.store.GetCard(ctx, ownerID, cardID); err == nil {
			s.indexCard(card)
		}
	}
	return nil
}

func (s *Service) DeleteCard(ctx context.Context, ownerID, cardID string) error {
	if strings.TrimSpace(cardID) == "" {
		return invalidArgument("card is required")
	}
	deleted, err := s.store.DeleteCard(ctx, ownerID, cardID)
	if err != nil {
		return wrapStoreErr(err, "card not found")
	}
	if !deleted {
		return notFound("card not found")
	}
	if s.search != nil {
		s.search.DeleteCard(cardID)
	}
	return nil
}

// DeleteCardsBatch removes one batch of cards. The dedupe sweep slices its
// delete set into batches before calling this; the store sees one request
// per batch.
func (s *Service) DeleteCardsBatch(ctx context.Context, ownerID string, cardIDs []string) (int, error) {
	deleted, err := s.store.DeleteCards(ctx, ownerID, cardIDs)
	if err != nil {
		return 0, wrapStoreErr(err, "card not found")
	}
	if s.search != nil {
		for _, id := range cardIDs {
			s.search.DeleteCard(id)
		}
	}
	return deleted, nil
}

// --- board view ---

func (s *Service) BoardView(ctx context.Context, ownerID string) (BoardView, error) {
	board, err := s.ResolveWorkingBoard(ctx, ownerID)
	if err != nil {
		return BoardView{}, err
	}
	columns, err := s.ListColumns(ctx, ownerID, board.ID)
	if err != nil {
		return BoardView{}, err
	}
	cards, err := s.ListCards(ctx, ownerID, board.ID, false)
	if err != nil {
		return BoardView{}, err
	}

	lanes := make(map[lane.Lane][]store.Card)
	for _, card := range cards {
		if l := lane.Classify(card.Status); l != lane.LaneNone {
			lanes[l] = append(lanes[l], card)
		}
	}

	return BoardView{
		Board:   board,
		Columns: columns,
		Cards:   cards,
		Lanes:   lanes,
	}, nil
}

func (s *Service) indexCard(card store.Card) {
	if s.search == nil {
		return
	}
	s.search.IndexCard(search.CardRecord{
		ID:          card.ID,
		BoardID:     card.BoardID,
		OwnerID:     card.OwnerID,
		ColumnID:    card.ColumnID,
		Title:       card.Title,
		Description: card.Description,
		Labels:      card.Labels,
		Status:      card.Status,
	})
}

func cardWithColumn(card store.Card, columnID string) store.Card {
	card.ColumnID = columnID
	return card
}
