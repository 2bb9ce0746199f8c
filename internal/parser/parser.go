// Package parser reads notes from markdown files. A note starts with a
// "Q:" line and may carry "A:", "C:" and "T:" blocks; "---" ends a note.
//
//	Q: What is the capital of France?
//	A: Paris
//	C: Geography
//	T: europe capitals
package parser

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/conorfennell/knolsched/internal/domain"
)

const (
	questionPrefix = "Q:"
	answerPrefix   = "A:"
	contextPrefix  = "C:"
	tagsPrefix     = "T:"
)

type state int

const (
	seeking state = iota
	readingQuestion
	readingAnswer
	readingContext
)

// ParseFS reads every note of a file in fsys.
func ParseFS(fsys fs.FS, path string) ([]domain.Note, error) {
	file, err := fsys.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	notes, err := Parse(file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return notes, nil
}

// Parse reads from an io.Reader and extracts all notes. Text before the
// first question is ignored.
func Parse(r io.Reader) ([]domain.Note, error) {
	scanner := bufio.NewScanner(r)
	var notes []domain.Note
	var current domain.Note
	var block []string
	st := seeking

	flushBlock := func() {
		if len(block) == 0 {
			return
		}
		content := strings.TrimRight(strings.Join(block, "\n"), "\n")
		switch st {
		case readingQuestion:
			current.Question = content
		case readingAnswer:
			current.Answer = content
		case readingContext:
			current.Context = content
		}
		block = nil
	}
	finishNote := func() {
		flushBlock()
		if current.Question != "" {
			notes = append(notes, current)
		}
		current = domain.Note{}
		st = seeking
	}

	for scanner.Scan() {
		line := scanner.Text()

		if line == "---" {
			finishNote()
			continue
		}

		next := st
		var rest string
		switch {
		case strings.HasPrefix(line, questionPrefix):
			if st != seeking {
				finishNote()
			}
			next, rest = readingQuestion, line[len(questionPrefix):]
		case strings.HasPrefix(line, answerPrefix) && st != seeking:
			next, rest = readingAnswer, line[len(answerPrefix):]
		case strings.HasPrefix(line, contextPrefix) && st != seeking:
			next, rest = readingContext, line[len(contextPrefix):]
		case strings.HasPrefix(line, tagsPrefix) && st != seeking:
			flushBlock()
			current.Tags = append(current.Tags, strings.Fields(line[len(tagsPrefix):])...)
			continue
		default:
			if st != seeking {
				block = append(block, line)
			}
			continue
		}

		flushBlock()
		st = next
		block = append(block, strings.TrimPrefix(rest, " "))
	}

	finishNote() // Finish the very last note in the file

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return notes, nil
}
