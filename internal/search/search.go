package search

// Result is a single decision hit returned to the caller.
type Result struct {
	ID           string `json:"id"`
	SuggestionID string `json:"suggestionId"`
	FeatureID    string `json:"featureId"`
	MissionID    string `json:"missionId"`
	UserID       string `json:"userId"`
	Action       string `json:"action"`
	Snippet      string `json:"snippet"`
}

// Query describes a decision search request.
type Query struct {
	Text      string
	MissionID string
	Action    string
	UserID    string
	Limit     int
	Offset    int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over decisions.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// DecisionDoc is the data we index for a decision.
type DecisionDoc struct {
	ID           string `json:"id"`
	SuggestionID string `json:"suggestionId"`
	FeatureID    string `json:"featureId"`
	MissionID    string `json:"missionId"`
	UserID       string `json:"userId"`
	Action       string `json:"action"`
	Comment      string `json:"comment"`
}
