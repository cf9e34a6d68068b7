package proxy

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
)

var doneFrame = []byte("data: [DONE]\n\n")

// sseSink writes chunks as server-sent events. Headers go out with the first
// frame, so an error before that can still become a plain JSON response.
type sseSink struct {
	c        *gin.Context
	started  bool
	finished bool
}

func newSSESink(c *gin.Context) *sseSink {
	return &sseSink{c: c}
}

func (s *sseSink) begin() {
	if s.started {
		return
	}
	s.started = true
	s.c.Header("Content-Type", "text/event-stream")
	s.c.Header("Cache-Control", "no-cache")
	s.c.Header("Connection", "keep-alive")
	s.c.Header("X-Accel-Buffering", "no")
	s.c.Status(http.StatusOK)
}

func (s *sseSink) write(frame []byte) error {
	if err := s.c.Request.Context().Err(); err != nil {
		return err
	}
	s.begin()
	if _, err := s.c.Writer.Write(frame); err != nil {
		return err
	}
	s.c.Writer.Flush()
	return nil
}

func eventFrame(event string, data []byte) []byte {
	frame := make([]byte, 0, len(data)+len(event)+16)
	if event != "" {
		frame = append(frame, "event: "...)
		frame = append(frame, event...)
		frame = append(frame, '\n')
	}
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	return append(frame, '\n', '\n')
}

// Send implements transformer.Sink.
func (s *sseSink) Send(chunk any) error {
	data, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	return s.write(eventFrame("", data))
}

// Done implements transformer.Sink.
func (s *sseSink) Done() error {
	if err := s.write(doneFrame); err != nil {
		return err
	}
	s.finished = true
	return nil
}

// Fail writes a best-effort error event.
func (s *sseSink) Fail(chunk any) {
	data, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	_ = s.write(eventFrame("error", data))
}
