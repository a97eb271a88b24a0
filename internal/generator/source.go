package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/pavelanni/leaveportal/internal/apperr"
	"github.com/pavelanni/leaveportal/internal/llm"
	"github.com/pavelanni/leaveportal/internal/model"
	"github.com/pavelanni/leaveportal/internal/store"
)

// Source names accepted by NewSource.
const (
	SourceBank = "bank"
	SourceLLM  = "llm"
)

// QuestionSource supplies multiple-choice questions for a subject and
// difficulty.
type QuestionSource interface {
	Name() string
	Fetch(ctx context.Context, subject string, difficulty model.Difficulty, count int) ([]model.GeneratedQuestion, error)
}

// Catalog describes what the question bank can offer.
type Catalog interface {
	Subjects(ctx context.Context) ([]model.SubjectInfo, error)
	Count(ctx context.Context, subject string, difficulty model.Difficulty) (int, error)
}

// BankSource draws random questions from the curated bank.
type BankSource struct {
	store *store.Store
}

// NewBankSource creates a bank-backed source and catalog.
func NewBankSource(s *store.Store) *BankSource {
	return &BankSource{store: s}
}

func (b *BankSource) Name() string { return SourceBank }

func (b *BankSource) Fetch(ctx context.Context, subject string, difficulty model.Difficulty, count int) ([]model.GeneratedQuestion, error) {
	bank, err := b.store.RandomBankQuestions(ctx, subject, difficulty, count)
	if err != nil {
		return nil, fmt.Errorf("query question bank: %w", err)
	}
	out := make([]model.GeneratedQuestion, len(bank))
	for i, q := range bank {
		out[i] = model.GeneratedQuestion{Question: q.Question, Options: q.Options, CorrectAnswer: q.CorrectAnswer}
	}
	return out, nil
}

func (b *BankSource) Subjects(ctx context.Context) ([]model.SubjectInfo, error) {
	return b.store.ListSubjects(ctx)
}

func (b *BankSource) Count(ctx context.Context, subject string, difficulty model.Difficulty) (int, error) {
	return b.store.CountBankQuestions(ctx, subject, difficulty)
}

// ValidateBank checks questions read from a bank file.
func ValidateBank(questions []model.BankQuestion) error {
	for i, q := range questions {
		if strings.TrimSpace(q.Subject) == "" {
			return apperr.Validation("bank question %d has no subject", i+1)
		}
		if !q.Difficulty.Valid() {
			return apperr.Validation("bank question %d has invalid difficulty %q", i+1, q.Difficulty)
		}
		gq := model.GeneratedQuestion{Question: q.Question, Options: q.Options, CorrectAnswer: q.CorrectAnswer}
		if err := checkShape([]model.GeneratedQuestion{gq}, 1); err != nil {
			return apperr.Validation("bank question %d: %v", i+1, err)
		}
	}
	return nil
}

// LLMSource asks a language model for fresh questions.
type LLMSource struct {
	client *llm.Client
}

// NewLLMSource creates a source backed by client.
func NewLLMSource(client *llm.Client) *LLMSource {
	return &LLMSource{client: client}
}

func (l *LLMSource) Name() string { return SourceLLM }

func (l *LLMSource) Fetch(ctx context.Context, subject string, difficulty model.Difficulty, count int) ([]model.GeneratedQuestion, error) {
	return l.client.GenerateQuestions(ctx, subject, difficulty, count)
}

// NewSource returns the question source called name. The llm source needs
// a client.
func NewSource(name string, s *store.Store, client *llm.Client) (QuestionSource, error) {
	switch name {
	case SourceBank, "":
		return NewBankSource(s), nil
	case SourceLLM:
		if client == nil {
			return nil, fmt.Errorf("question source %q needs an LLM client", name)
		}
		return NewLLMSource(client), nil
	default:
		return nil, fmt.Errorf("unknown question source %q", name)
	}
}
