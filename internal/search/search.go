package search

// CardRecord is the data we index for a card.
type CardRecord struct {
	ID          string   `json:"id"`
	BoardID     string   `json:"boardId"`
	OwnerID     string   `json:"ownerId"`
	ColumnID    string   `json:"columnId"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Labels      []string `json:"labels"`
	Status      string   `json:"status"`
}

// Query describes a card search request. OwnerID is mandatory: search is
// scoped to the acting identity like every other read.
type Query struct {
	Text    string
	OwnerID string
	BoardID string
	Limit   int
	Offset  int
}

// Result is a single search hit returned to the caller.
type Result struct {
	ID       string `json:"id"`
	BoardID  string `json:"boardId"`
	ColumnID string `json:"columnId"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
	Status   string `json:"status,omitempty"`
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over cards.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push cards into a search index.
type Indexer interface {
	IndexCard(card CardRecord) error
	DeleteCard(id string) error
}
