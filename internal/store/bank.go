package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/leaveportal/internal/model"
)

// InsertBankQuestion stores a curated question. Re-inserting the same
// (subject, difficulty, question) fails with ErrDuplicate.
func (q *Queries) InsertBankQuestion(ctx context.Context, bq *model.BankQuestion) error {
	if bq.ID == "" {
		bq.ID = uuid.NewString()
	}
	opts, err := encodeJSON(bq.Options)
	if err != nil {
		return err
	}
	_, err = q.q.ExecContext(ctx,
		`INSERT INTO question_bank (id, subject, difficulty, question, options, correct_answer, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		bq.ID, bq.Subject, bq.Difficulty, bq.Question, opts, bq.CorrectAnswer, time.Now().UTC(),
	)
	return mapWriteErr(err)
}

// RandomBankQuestions returns up to n random questions for subject and difficulty.
func (q *Queries) RandomBankQuestions(ctx context.Context, subject string, difficulty model.Difficulty, n int) ([]model.BankQuestion, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT id, subject, difficulty, question, options, correct_answer FROM question_bank
		 WHERE subject = ? AND difficulty = ? ORDER BY RANDOM() LIMIT ?`,
		subject, difficulty, n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.BankQuestion
	for rows.Next() {
		var bq model.BankQuestion
		var opts string
		if err := rows.Scan(&bq.ID, &bq.Subject, &bq.Difficulty, &bq.Question, &opts, &bq.CorrectAnswer); err != nil {
			return nil, err
		}
		if err := decodeJSON(opts, &bq.Options); err != nil {
			return nil, fmt.Errorf("decode options of bank question %s: %w", bq.ID, err)
		}
		out = append(out, bq)
	}
	return out, rows.Err()
}

// CountBankQuestions counts questions for subject and difficulty.
// An empty difficulty counts all difficulties.
func (q *Queries) CountBankQuestions(ctx context.Context, subject string, difficulty model.Difficulty) (int, error) {
	query := `SELECT COUNT(*) FROM question_bank WHERE subject = ?`
	args := []any{subject}
	if difficulty != "" {
		query += ` AND difficulty = ?`
		args = append(args, difficulty)
	}
	var count int
	err := q.q.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, err
}

// ListSubjects returns bank subjects with their question counts.
func (q *Queries) ListSubjects(ctx context.Context) ([]model.SubjectInfo, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT subject, COUNT(*) FROM question_bank GROUP BY subject ORDER BY subject`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subjects []model.SubjectInfo
	for rows.Next() {
		var si model.SubjectInfo
		if err := rows.Scan(&si.Subject, &si.Count); err != nil {
			return nil, err
		}
		subjects = append(subjects, si)
	}
	return subjects, rows.Err()
}

// GetImportedFileHash returns the hash recorded for path, or "" if the file
// was never imported.
func (q *Queries) GetImportedFileHash(ctx context.Context, path string) (string, error) {
	var hash string
	err := q.q.QueryRowContext(ctx, `SELECT sha256 FROM imported_files WHERE path = ?`, path).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return hash, err
}

func (q *Queries) setImportedFileHash(ctx context.Context, path, hash string, count int) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO imported_files (path, sha256, question_count, imported_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET sha256 = excluded.sha256,
		 question_count = excluded.question_count, imported_at = excluded.imported_at`,
		path, hash, count, time.Now().UTC(),
	)
	return err
}

// ImportBank inserts questions read from path and records its hash, all in
// one transaction. Questions already in the bank are skipped. It returns the
// number of questions inserted.
func (s *Store) ImportBank(ctx context.Context, path, hash string, questions []model.BankQuestion) (int, error) {
	inserted := 0
	err := s.InTx(ctx, func(q *Queries) error {
		for i := range questions {
			err := q.InsertBankQuestion(ctx, &questions[i])
			if errors.Is(err, ErrDuplicate) {
				slog.Debug("bank question already present, skipping", "path", path, "index", i)
				continue
			}
			if err != nil {
				return fmt.Errorf("insert question %d: %w", i, err)
			}
			inserted++
		}
		return q.setImportedFileHash(ctx, path, hash, inserted)
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}
