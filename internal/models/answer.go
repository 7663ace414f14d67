package models

import "fmt"

// AnswerResult is the outcome of answering a question: either *Matched or *Unmatched.
// The interface is sealed; no other implementations exist.
type AnswerResult interface {
	isAnswerResult()
}

// Matched carries the stored corpus question that matched, not the caller's input.
type Matched struct {
	Answer   string
	Question string
	Score    float64
}

// Unmatched means no corpus entry scored at or above the threshold. It is not an error.
type Unmatched struct {
	Reason string
}

func (*Matched) isAnswerResult()   {}
func (*Unmatched) isAnswerResult() {}

// AskRequest is the body of POST /api/ask.
type AskRequest struct {
	Question *string `json:"question"`
}

// AskResponse is the wire shape of an AnswerResult.
// Answer is always present and null when unmatched.
type AskResponse struct {
	Matched  bool     `json:"matched"`
	Answer   *string  `json:"answer"`
	Question string   `json:"question,omitempty"`
	Score    *float64 `json:"score,omitempty"`
	Reason   string   `json:"reason,omitempty"`
}

// NewAskResponse converts a result into its wire shape.
func NewAskResponse(result AnswerResult) (*AskResponse, error) {
	switch r := result.(type) {
	case *Matched:
		answer, score := r.Answer, r.Score
		return &AskResponse{Matched: true, Answer: &answer, Question: r.Question, Score: &score}, nil
	case *Unmatched:
		return &AskResponse{Matched: false, Reason: r.Reason}, nil
	default:
		return nil, fmt.Errorf("unknown answer result %T", result)
	}
}

// Result converts a decoded wire response back into an AnswerResult.
func (r *AskResponse) Result() AnswerResult {
	if r.Matched && r.Answer != nil {
		m := &Matched{Answer: *r.Answer, Question: r.Question}
		if r.Score != nil {
			m.Score = *r.Score
		}
		return m
	}
	return &Unmatched{Reason: r.Reason}
}
