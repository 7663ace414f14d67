// Package calibrate measures how well an embedding model separates related from unrelated
// questions, to sanity-check the fixed match threshold against a model.
package calibrate

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/hyperjump/faqbot/internal/embedding"
	"github.com/hyperjump/faqbot/internal/models"
	"github.com/hyperjump/faqbot/internal/vector"
	"gopkg.in/yaml.v3"
)

// Pair kinds.
const (
	Positive = "positive"
	Negative = "negative"
)

// Pair is two questions that should (positive) or should not (negative) be similar.
type Pair struct {
	Kind string `yaml:"kind" json:"kind" validate:"oneof=positive negative"`
	Name string `yaml:"name" json:"name"`
	A    string `yaml:"a" json:"a" validate:"required"`
	B    string `yaml:"b" json:"b" validate:"required"`
}

// DefaultPairs returns the built-in Korean calibration set.
func DefaultPairs() []Pair {
	return []Pair{
		{Positive, "Perso 서비스 소개", "Perso.ai는 어떤 서비스인가요?", "Perso.ai가 어떤 서비스인지 설명해줘."},
		{Positive, "Perso 요금제", "Perso.ai의 요금제는 어떻게 구성되어 있나요?", "Perso.ai 요금제 종류 알려줘."},
		{Positive, "이스트소프트 회사 소개", "이스트소프트는 어떤 회사인가요?", "이스트소프트 회사에 대해 소개해줘."},
		{Negative, "고양이 vs 이스트소프트", "고양이가 커피 마시면 어떻게 돼?", "이스트소프트는 어떤 회사인가요?"},
		{Negative, "땅콩버터 vs 요금제", "땅콩버터 레시피 알려줘.", "Perso.ai의 요금제는 어떻게 구성되어 있나요?"},
		{Negative, "라면 vs 다국어 더빙", "라면 맛있게 끓이는 방법 알려줘.", "Perso.ai는 어떤 서비스인가요?"},
	}
}

type pairsFile struct {
	Pairs []Pair `yaml:"pairs" validate:"required,min=1,dive"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadPairs reads a YAML file with a top-level "pairs" list.
// Invalid pairs are reported as a *models.ValidationError naming the first bad field.
func LoadPairs(path string) ([]Pair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pairs: %w", err)
	}
	var f pairsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse pairs: %w", err)
	}
	if err := validate.Struct(f); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return nil, fmt.Errorf("invalid pairs in %s: %w", path, &models.ValidationError{
				Field:  fe.Namespace(),
				Reason: fmt.Sprintf("fails %q (got %q)", fe.ActualTag(), fmt.Sprint(fe.Value())),
			})
		}
		return nil, fmt.Errorf("failed to validate pairs: %w", err)
	}
	return f.Pairs, nil
}

// Result is the similarity of one pair.
type Result struct {
	Pair
	Score float64 `json:"score"`
	// Separated is true when a positive pair reaches the threshold or a negative pair stays below it.
	Separated bool `json:"separated"`
}

// Report summarises a calibration run.
type Report struct {
	Label        string   `json:"label"`
	Threshold    float64  `json:"threshold"`
	Results      []Result `json:"results"`
	PositiveMean float64  `json:"positive_mean"`
	NegativeMean float64  `json:"negative_mean"`
}

// Misclassified returns the number of pairs on the wrong side of the threshold.
func (r *Report) Misclassified() int {
	n := 0
	for _, res := range r.Results {
		if !res.Separated {
			n++
		}
	}
	return n
}

// Run embeds both sides of every pair and scores them by cosine similarity.
func Run(ctx context.Context, embedder embedding.Embedder, pairs []Pair, label string, threshold float64) (*Report, error) {
	report := &Report{Label: label, Threshold: threshold, Results: make([]Result, 0, len(pairs))}
	var posSum, negSum float64
	var posN, negN int
	for _, p := range pairs {
		a, err := embedder.Embed(ctx, p.A)
		if err != nil {
			return nil, fmt.Errorf("failed to embed %q: %w", p.A, err)
		}
		b, err := embedder.Embed(ctx, p.B)
		if err != nil {
			return nil, fmt.Errorf("failed to embed %q: %w", p.B, err)
		}
		score := vector.CosineSimilarity(a, b)
		res := Result{Pair: p, Score: score}
		if p.Kind == Positive {
			res.Separated = score >= threshold
			posSum += score
			posN++
		} else {
			res.Separated = score < threshold
			negSum += score
			negN++
		}
		report.Results = append(report.Results, res)
	}
	if posN > 0 {
		report.PositiveMean = posSum / float64(posN)
	}
	if negN > 0 {
		report.NegativeMean = negSum / float64(negN)
	}
	return report, nil
}
