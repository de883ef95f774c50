// Package questions loads, validates and writes evaluation question sets.
package questions

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Question is one evaluation item. Only ID, Question and ExpectedAnswer are required.
type Question struct {
	ID             string `yaml:"id" json:"id"`
	Question       string `yaml:"question" json:"question"`
	ExpectedAnswer string `yaml:"expected_answer" json:"expected_answer"`
	SourceFile     string `yaml:"source_file,omitempty" json:"source_file,omitempty"`
	Notes          string `yaml:"notes,omitempty" json:"notes,omitempty"`
}

// Generation bounds for GenerationPrompt.
const (
	MinGenerate     = 1
	MaxGenerate     = 20
	DefaultGenerate = 5
)

type document struct {
	Questions []Question `yaml:"questions" json:"questions"`
}

// Parse decodes a question set. data may hold a bare list or a mapping with a questions key, in YAML or JSON (JSON is
// valid YAML).
func Parse(data []byte) ([]Question, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	root := node.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		var qs []Question
		if err := root.Decode(&qs); err != nil {
			return nil, err
		}
		return qs, nil
	case yaml.MappingNode:
		var doc document
		if err := root.Decode(&doc); err != nil {
			return nil, err
		}
		return doc.Questions, nil
	default:
		return nil, errors.New("expected a list of questions or a mapping with a questions key")
	}
}

// Load reads a question set from path.
func Load(path string) ([]Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	qs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return qs, nil
}

// Validate checks required fields and ID uniqueness. It reports every problem, not just the first.
func Validate(qs []Question) error {
	if len(qs) == 0 {
		return errors.New("question set is empty")
	}
	var errs []error
	seen := map[string]int{}
	for i, q := range qs {
		label := fmt.Sprintf("question %d", i+1)
		if q.ID != "" {
			label = fmt.Sprintf("question %d (%s)", i+1, q.ID)
		}
		if strings.TrimSpace(q.ID) == "" {
			errs = append(errs, fmt.Errorf("%s: id is required", label))
		} else if prev, dup := seen[q.ID]; dup {
			errs = append(errs, fmt.Errorf("%s: id duplicates question %d", label, prev))
		} else {
			seen[q.ID] = i + 1
		}
		if strings.TrimSpace(q.Question) == "" {
			errs = append(errs, fmt.Errorf("%s: question is required", label))
		}
		if strings.TrimSpace(q.ExpectedAnswer) == "" {
			errs = append(errs, fmt.Errorf("%s: expected_answer is required", label))
		}
	}
	return errors.Join(errs...)
}

// Save writes qs to path as JSON when the extension is .json and as YAML otherwise.
func Save(path string, qs []Question) error {
	if qs == nil {
		qs = []Question{}
	}
	var data []byte
	if strings.EqualFold(filepath.Ext(path), ".json") {
		b, err := json.MarshalIndent(qs, "", "  ")
		if err != nil {
			return err
		}
		data = append(b, '\n')
	} else {
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(qs); err != nil {
			return err
		}
		if err := enc.Close(); err != nil {
			return err
		}
		data = buf.Bytes()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

var jsonArray = regexp.MustCompile(`(?s)\[.*\]`)

// ParseGenerated extracts the question list from model output, which may wrap the JSON array in prose or a code
// fence. IDs missing from the output are assigned as q1, q2, ...
func ParseGenerated(text string) ([]Question, error) {
	match := jsonArray.FindString(text)
	if match == "" {
		return nil, errors.New("model did not return a JSON array")
	}
	var qs []Question
	if err := json.Unmarshal([]byte(match), &qs); err != nil {
		return nil, fmt.Errorf("parse generated questions: %w", err)
	}
	for i := range qs {
		if strings.TrimSpace(qs[i].ID) == "" {
			qs[i].ID = fmt.Sprintf("q%d", i+1)
		}
	}
	return qs, nil
}

// ClampCount bounds a requested generation count to [MinGenerate, MaxGenerate].
func ClampCount(n int) int {
	return min(max(n, MinGenerate), MaxGenerate)
}

// GenerationPrompt is the system prompt that asks the agent to build a question set from the repository.
func GenerationPrompt(count int) string {
	return fmt.Sprintf(`You build evaluation data for a document question-answering agent.

Produce %d question-answer pairs grounded in the documents you can reach.

Work like this:
1. Discover files with list_files or search_drive.
2. Open several of them with read_document.
3. Write one or two questions per document you read. The answer must appear word for word in that document.

Rules:
- expected_answer is a short, specific phrase copied from the document: a date, a name, a number or a term.
- Spread the questions across different files and kinds of fact.
- Number the ids q1, q2, q3 and so on.
- Set source_file to the name of the document the answer came from.

Reply with the JSON array only, no other text:
[{"id":"q1","question":"...","expected_answer":"...","source_file":"..."}]`, ClampCount(count))
}

// GenerationRequest is the user message that starts question generation.
func GenerationRequest(count int) string {
	return fmt.Sprintf("Generate %d evaluation questions from the available documents. Return only a JSON array.", ClampCount(count))
}
