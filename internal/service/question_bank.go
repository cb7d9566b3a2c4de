package service

import (
	"assessment_engine/internal/model"
	"assessment_engine/internal/util"
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
)

// QuestionBank is the validated, read-only view of one assessment version.
type QuestionBank struct {
	Assessment *model.AssessmentDefinition

	questions map[string]*model.Question
	correct   map[string]map[string]struct{}
}

func NewQuestionBank(def *model.AssessmentDefinition) (*QuestionBank, error) {
	b := &QuestionBank{
		Assessment: def,
		questions:  make(map[string]*model.Question, len(def.Questions)),
		correct:    make(map[string]map[string]struct{}, len(def.Questions)),
	}
	for i := range def.Questions {
		q := &def.Questions[i]
		b.questions[q.ID] = q
		set := make(map[string]struct{})
		for _, o := range q.Options {
			if o.IsCorrect {
				set[o.ID] = struct{}{}
			}
		}
		b.correct[q.ID] = set
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

func invalidBank(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", util.ErrInvalidQuestionBank, fmt.Sprintf(format, args...))
}

// Validate checks the structural invariants of the definition and its questions.
func (b *QuestionBank) Validate() error {
	def := b.Assessment
	if def.Kind != model.AssessmentQuiz && def.Kind != model.AssessmentExam {
		return invalidBank("unknown assessment kind %q", def.Kind)
	}
	if len(def.Questions) == 0 {
		return invalidBank("assessment %s has no questions", def.ID)
	}
	if def.PassingScore < 0 || def.PassingScore > model.MaxPassingScore {
		return invalidBank("passing score %.2f outside 0-20", def.PassingScore)
	}
	if def.AttemptsAllowed < 0 {
		return invalidBank("attempts allowed must be >= 1 or 0 for unlimited")
	}
	if def.TimeLimitSeconds != nil && *def.TimeLimitSeconds <= 0 {
		return invalidBank("time limit must be positive when set")
	}
	if def.GeneratesCertificate && def.Kind != model.AssessmentExam {
		return invalidBank("only exams can generate certificates")
	}
	if def.Policy != nil && def.Kind != model.AssessmentExam {
		return invalidBank("anti-fraud policy is only valid on exams")
	}

	seenOrder := make(map[int]struct{}, len(def.Questions))
	for _, q := range def.Questions {
		if q.Points <= 0 {
			return invalidBank("question %s has non-positive points", q.ID)
		}
		if _, dup := seenOrder[q.OrderIndex]; dup {
			return invalidBank("duplicate order_index %d", q.OrderIndex)
		}
		seenOrder[q.OrderIndex] = struct{}{}

		correct := len(b.correct[q.ID])
		switch q.Type {
		case model.SingleChoice:
			if correct != 1 {
				return invalidBank("single_choice question %s needs exactly one correct option, has %d", q.ID, correct)
			}
		case model.MultipleChoice:
			if correct < 1 {
				return invalidBank("multiple_choice question %s needs at least one correct option", q.ID)
			}
		case model.OpenText:
			if len(q.Options) > 0 {
				return invalidBank("open_text question %s cannot have options", q.ID)
			}
		default:
			return invalidBank("question %s has unknown type %q", q.ID, q.Type)
		}
	}
	return nil
}

func (b *QuestionBank) Question(id string) (*model.Question, bool) {
	q, ok := b.questions[id]
	return q, ok
}

func (b *QuestionBank) CorrectOptions(questionID string) map[string]struct{} {
	return b.correct[questionID]
}

func (b *QuestionBank) HasOption(questionID, optionID string) bool {
	q, ok := b.questions[questionID]
	if !ok {
		return false
	}
	for _, o := range q.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}

func (b *QuestionBank) MaxScore() int {
	total := 0
	for _, q := range b.Assessment.Questions {
		total += q.Points
	}
	return total
}

func (b *QuestionBank) HasOpenText() bool {
	for _, q := range b.Assessment.Questions {
		if q.Type == model.OpenText {
			return true
		}
	}
	return false
}

// Policy returns the exam's anti-fraud policy, or the permissive default for quizzes.
func (b *QuestionBank) Policy() model.AntiFraudPolicy {
	if b.Assessment.Policy != nil {
		return *b.Assessment.Policy
	}
	return model.AntiFraudPolicy{TimeLimitStrict: true}
}

// Snapshot fixes the question and option order for one session.
// The same seed always yields the same order.
func (b *QuestionBank) Snapshot(seed string) model.AttemptSnapshot {
	h := fnv.New64a()
	h.Write([]byte(seed))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	questions := make([]model.SnapshotQuestion, len(b.Assessment.Questions))
	for i, q := range b.Assessment.Questions {
		sq := model.SnapshotQuestion{QuestionID: q.ID}
		for _, o := range q.Options {
			sq.OptionIDs = append(sq.OptionIDs, o.ID)
		}
		questions[i] = sq
	}

	if b.Assessment.ShuffleQuestions {
		rng.Shuffle(len(questions), func(i, j int) {
			questions[i], questions[j] = questions[j], questions[i]
		})
	}
	if b.Assessment.ShuffleAnswers {
		for i := range questions {
			opts := questions[i].OptionIDs
			rng.Shuffle(len(opts), func(x, y int) {
				opts[x], opts[y] = opts[y], opts[x]
			})
		}
	}
	return model.AttemptSnapshot{Questions: questions}
}

// BankCache memoizes validated banks. Definitions are immutable per id, so entries never go stale.
type BankCache struct {
	Store AssessmentStore
	banks sync.Map
}

func NewBankCache(store AssessmentStore) *BankCache {
	return &BankCache{Store: store}
}

func (c *BankCache) Load(ctx context.Context, assessmentID string) (*QuestionBank, error) {
	if v, ok := c.banks.Load(assessmentID); ok {
		return v.(*QuestionBank), nil
	}
	def, err := c.Store.FindAssessment(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	bank, err := NewQuestionBank(def)
	if err != nil {
		return nil, err
	}
	actual, _ := c.banks.LoadOrStore(assessmentID, bank)
	return actual.(*QuestionBank), nil
}
