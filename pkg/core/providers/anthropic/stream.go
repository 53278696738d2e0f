package anthropic

import (
	"io"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
)

// sseStream is the subset of the SDK's SSE stream the adapter consumes.
type sseStream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
	Close() error
}

type textStream struct {
	stream    sseStream
	done      bool
	closeOnce sync.Once
	closeErr  error
}

func newTextStream(stream sseStream) *textStream {
	return &textStream{stream: stream}
}

// Next returns the next text delta. Non-text events are skipped.
func (s *textStream) Next() (string, error) {
	for !s.done {
		if !s.stream.Next() {
			s.done = true
			if err := s.stream.Err(); err != nil {
				return "", mapError(err)
			}
			return "", io.EOF
		}

		switch event := s.stream.Current().AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := event.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				return delta.Text, nil
			}
		case anthropic.MessageStopEvent:
			s.done = true
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
