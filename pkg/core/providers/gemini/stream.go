package gemini

import (
	"io"
	"iter"
	"sync"

	"google.golang.org/genai"
)

// textStream adapts the SDK's push iterator to a pull-style TextStream.
// Next and Close must be called from the same goroutine.
type textStream struct {
	next      func() (*genai.GenerateContentResponse, error, bool)
	stop      func()
	done      bool
	closeOnce sync.Once
}

func newTextStream(seq iter.Seq2[*genai.GenerateContentResponse, error]) *textStream {
	next, stop := iter.Pull2(seq)
	return &textStream{next: next, stop: stop}
}

func (s *textStream) Next() (string, error) {
	for !s.done {
		resp, err, ok := s.next()
		if !ok {
			s.done = true
			break
		}
		if err != nil {
			s.done = true
			return "", mapError(err)
		}
		if resp == nil {
			continue
		}
		if text := resp.Text(); text != "" {
			return text, nil
		}
	}
	return "", io.EOF
}

func (s *textStream) Close() error {
	s.closeOnce.Do(s.stop)
	return nil
}
