package ai

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

type streamLine struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

// streamReader reads newline-delimited JSON chunks and accumulates the
// message content.
type streamReader struct {
	r   *bufio.Reader
	acc strings.Builder
}

func newStreamReader(r io.Reader) *streamReader {
	return &streamReader{r: bufio.NewReader(r)}
}

func (s *streamReader) Text() string { return s.acc.String() }

// Process calls fn with the cumulative text after every non-empty fragment
// and returns when the server reports done or the body ends.
func (s *streamReader) Process(ctx context.Context, fn func(string)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := s.r.ReadBytes('\n')
		if len(line) > 0 {
			done, perr := s.consume(line, fn)
			if perr != nil {
				return perr
			}
			if done {
				return nil
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			return err
		}
	}
}

func (s *streamReader) consume(line []byte, fn func(string)) (bool, error) {
	line = []byte(strings.TrimSpace(string(line)))
	if len(line) == 0 {
		return false, nil
	}

	var chunk streamLine
	if err := json.Unmarshal(line, &chunk); err != nil {
		// Malformed lines are skipped.
		return false, nil
	}
	if chunk.Error != "" {
		return true, errors.New(chunk.Error)
	}
	if chunk.Message.Content != "" {
		s.acc.WriteString(chunk.Message.Content)
		fn(s.acc.String())
	}
	return chunk.Done, nil
}
