package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/leaveportal/internal/model"
)

// Templates holds the built-in prompt templates.
//
//go:embed templates/*.txt
var Templates embed.FS

// OptionCount is the number of options every generated question carries.
const OptionCount = 4

const maxSubjectLen = 200

var subjectTagRegex = regexp.MustCompile(`(?i)</?\s*subject\b[^>]*>`)

var (
	loadOnce  sync.Once
	loadErr   error
	system    string
	templates map[model.Difficulty]*template.Template
)

// GenerateData holds template data for question generation prompts.
type GenerateData struct {
	Subject        string
	Count          int
	Options        int
	OptionsExample string
}

// Load parses the prompt templates from fsys. Only the first call has any
// effect.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		sys, err := fs.ReadFile(fsys, "templates/system.txt")
		if err != nil {
			loadErr = fmt.Errorf("read system prompt: %w", err)
			return
		}
		system = strings.TrimSpace(string(sys))

		templates = make(map[model.Difficulty]*template.Template)
		for _, d := range []model.Difficulty{model.DifficultyEasy, model.DifficultyMedium, model.DifficultyHard} {
			file := "templates/generate_" + string(d) + ".txt"
			content, err := fs.ReadFile(fsys, file)
			if err != nil {
				loadErr = fmt.Errorf("read prompt file %s: %w", file, err)
				return
			}
			tmpl, err := template.New(string(d)).Parse(string(content))
			if err != nil {
				loadErr = fmt.Errorf("parse prompt template %s: %w", file, err)
				return
			}
			templates[d] = tmpl
		}
	})
	return loadErr
}

// System returns the system prompt.
func System() string {
	return system
}

// BuildGeneratePrompt builds the user prompt asking for count questions on
// subject at difficulty d.
func BuildGeneratePrompt(d model.Difficulty, subject string, count int) (string, error) {
	if templates == nil {
		return "", errors.New("templates not initialized: call Load first")
	}
	tmpl, ok := templates[d]
	if !ok {
		return "", errors.New("invalid difficulty: " + string(d))
	}

	examples := make([]string, OptionCount)
	for i := range examples {
		examples[i] = fmt.Sprintf("%q", "Option "+string(rune('A'+i)))
	}
	data := GenerateData{
		Subject:        sanitizeSubject(subject),
		Count:          count,
		Options:        OptionCount,
		OptionsExample: strings.Join(examples, ", "),
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sanitizeSubject(subject string) string {
	subject = subjectTagRegex.ReplaceAllString(subject, "")
	subject = strings.Join(strings.Fields(subject), " ")
	if subject == "" {
		return "[No subject provided]"
	}
	if utf8.RuneCountInString(subject) > maxSubjectLen {
		subject = string([]rune(subject)[:maxSubjectLen])
	}
	return subject
}
