package openai

import (
	"errors"
	"io"
	"sync"

	"github.com/openai/openai-go/v3"

	"github.com/vango-go/callbridge/pkg/core"
)

type chunkStream interface {
	Next() bool
	Current() openai.ChatCompletionChunk
	Err() error
	Close() error
}

type textStream struct {
	stream    chunkStream
	done      bool
	closeOnce sync.Once
	closeErr  error
}

func newTextStream(stream chunkStream) *textStream {
	return &textStream{stream: stream}
}

// Next returns the next content delta of the first choice.
func (s *textStream) Next() (string, error) {
	for !s.done {
		if !s.stream.Next() {
			s.done = true
			if err := s.stream.Err(); err != nil {
				return "", mapError(err)
			}
			return "", io.EOF
		}

		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if text := chunk.Choices[0].Delta.Content; text != "" {
			return text, nil
		}
	}
	return "", io.EOF
}

func (s *textStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.stream.Close()
	})
	return s.closeErr
}

func mapError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return core.NewProviderError("openai", err)
	}
	return core.NewUpstreamError("openai", apiErr.StatusCode, err)
}
