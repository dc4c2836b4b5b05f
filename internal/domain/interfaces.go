package domain

import "context"

// Coordinate is a resolved WGS 84 point.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the coordinate lies inside the latitude/longitude ranges.
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// SearchQuery is the input of the hybrid search tool. Coordinate is set only when a
// location was resolved by the geocoder earlier in the same turn.
type SearchQuery struct {
	Query      string
	Coordinate *Coordinate
}

// VenueResult is one ranked hit projected from the search backend.
type VenueResult struct {
	Info          string `json:"info"`
	PopularDishes string `json:"popular_dishes"`
	ReviewSummary string `json:"review_summary"`
}

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a session's conversation history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Geocoder resolves free-text locations. found is false when the provider
// returned no candidate; that is not an error.
type Geocoder interface {
	Resolve(ctx context.Context, location string) (coord Coordinate, found bool, err error)
}

// Searcher runs the hybrid venue search.
type Searcher interface {
	Search(ctx context.Context, q SearchQuery) ([]VenueResult, error)
}

// Embedder converts free text into a dense vector.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}
