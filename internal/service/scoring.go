package service

import (
	"assessment_engine/internal/model"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Grade turns a finished session's responses into a result. It has no side effects.
// Choice questions need an exact match with the correct option set; open_text never auto-scores.
func Grade(session *model.AttemptSession, bank *QuestionBank, responses model.ResponseSet, now time.Time) *model.GradedResult {
	def := bank.Assessment
	breakdown := make([]model.QuestionScore, 0, len(def.Questions))
	score, maxScore := 0, 0

	for i := range def.Questions {
		q := &def.Questions[i]
		maxScore += q.Points
		qs := model.QuestionScore{QuestionID: q.ID, Type: q.Type, Points: q.Points}

		resp, answered := responses[q.ID]
		switch q.Type {
		case model.SingleChoice, model.MultipleChoice:
			if answered && resp.Kind == model.ResponseChoice && len(resp.OptionIDs) > 0 {
				qs.Answered = true
				if sameSet(resp.OptionIDs, bank.CorrectOptions(q.ID)) {
					qs.Earned = q.Points
				}
			}
		case model.OpenText:
			qs.NeedsReview = true
			if answered && resp.Kind == model.ResponseText && strings.TrimSpace(resp.Text) != "" {
				qs.Answered = true
				qs.SuggestedPoints = rubricSuggestion(q, resp.Text)
			}
		}
		score += qs.Earned
		breakdown = append(breakdown, qs)
	}

	result := &model.GradedResult{
		SessionID:     session.ID,
		AssessmentID:  def.ID,
		ModuleID:      def.ModuleID,
		EnrollmentID:  session.EnrollmentID,
		LearnerID:     session.LearnerID,
		Score:         score,
		MaxScore:      maxScore,
		Partial:       session.Partial(),
		GradedAt:      now,
		TimeSpent:     timeSpent(session, now),
		Breakdown:     datatypes.JSONSlice[model.QuestionScore](breakdown),
		GradingMethod: model.GradingAutomatic,
	}
	result.NormalizedScore = Normalize(score, maxScore)

	if needsManualReview(session, bank) {
		result.GradingMethod = model.GradingManualReviewPending
		return result
	}

	passed := Passes(score, maxScore, def.PassingScore)
	result.Passed = &passed
	return result
}

// Normalize maps score onto the 0-20 scale.
func Normalize(score, maxScore int) float64 {
	if maxScore <= 0 {
		return 0
	}
	return float64(score) / float64(maxScore) * model.MaxPassingScore
}

// Passes reports score/max*20 >= passing without dividing.
func Passes(score, maxScore int, passing float64) bool {
	if maxScore <= 0 {
		return false
	}
	return float64(score)*model.MaxPassingScore >= passing*float64(maxScore)
}

func needsManualReview(session *model.AttemptSession, bank *QuestionBank) bool {
	if bank.HasOpenText() {
		return true
	}
	if session.EndReason == model.AttemptSuspended || session.ManualReviewRequired {
		return true
	}
	return bank.Policy().ManualReviewRequired
}

func sameSet(selected []string, correct map[string]struct{}) bool {
	seen := make(map[string]struct{}, len(selected))
	for _, id := range selected {
		if _, ok := correct[id]; !ok {
			return false
		}
		seen[id] = struct{}{}
	}
	return len(seen) == len(correct)
}

// rubricSuggestion awards points in proportion to the rubric keywords found, for the reviewer only.
func rubricSuggestion(q *model.Question, text string) int {
	if len(q.RubricKeywords) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	hits := 0
	for _, kw := range q.RubricKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(lower, kw) {
			hits++
		}
	}
	return q.Points * hits / len(q.RubricKeywords)
}

func timeSpent(session *model.AttemptSession, now time.Time) int {
	end := now
	if session.EndedAt != nil {
		end = *session.EndedAt
	}
	if session.Deadline != nil && end.After(*session.Deadline) {
		end = *session.Deadline
	}
	secs := int(end.Sub(session.StartedAt) / time.Second)
	if secs < 0 {
		return 0
	}
	return secs
}
