// Package recipe reads ordered lists of edit instructions and applies them
// one after another to the working image.
package recipe

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var ErrEmptyRecipe = errors.New("no instructions found in recipe")

// Step is one instruction of a recipe. Index is 1-based.
type Step struct {
	Index       int
	Instruction string
}

type jsonStep struct {
	Instruction string `json:"instruction"`
}

func ParseFile(path string) ([]Step, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recipe: %w", err)
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		return ParseJSON(file)
	case ".txt", "":
		return ParseText(file)
	default:
		return nil, fmt.Errorf("unsupported recipe format %q: use .txt or .json", ext)
	}
}

// ParseText reads one instruction per line. Blank lines and lines starting
// with # are skipped.
func ParseText(r io.Reader) ([]Step, error) {
	var steps []Step
	scanner := bufio.NewScanner(r)
	index := 0

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		index++
		steps = append(steps, Step{
			Index:       index,
			Instruction: line,
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read recipe: %w", err)
	}

	if len(steps) == 0 {
		return nil, ErrEmptyRecipe
	}

	return steps, nil
}

// ParseJSON reads an array whose elements are either instruction strings or
// objects with an "instruction" field.
func ParseJSON(r io.Reader) ([]Step, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read recipe: %w", err)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	if len(raw) == 0 {
		return nil, ErrEmptyRecipe
	}

	steps := make([]Step, len(raw))
	for i, elem := range raw {
		instruction, err := decodeStep(elem)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		if strings.TrimSpace(instruction) == "" {
			return nil, fmt.Errorf("step %d has empty instruction", i+1)
		}
		steps[i] = Step{
			Index:       i + 1,
			Instruction: strings.TrimSpace(instruction),
		}
	}

	return steps, nil
}

func decodeStep(elem json.RawMessage) (string, error) {
	if trimmed := bytes.TrimSpace(elem); len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		err := json.Unmarshal(trimmed, &s)
		return s, err
	}
	var js jsonStep
	if err := json.Unmarshal(elem, &js); err != nil {
		return "", err
	}
	return js.Instruction, nil
}
