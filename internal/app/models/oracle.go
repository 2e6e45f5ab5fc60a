package models

// ScoreVersion identifies the shape of Score returned by a recommendation oracle.
const ScoreVersion = "v1"

// Score is the oracle's verdict for one candidate destination.
type Score struct {
	ID              string  `json:"id"`
	Score           float64 `json:"score"`
	Confidence      float64 `json:"confidence"`
	PredictedRating float64 `json:"predicted_rating"`
}
