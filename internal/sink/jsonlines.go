package sink

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"flockwatch/internal/model"
)

// JSONLines writes one JSON object per detection, newline terminated.
type JSONLines struct {
	mu  sync.Mutex
	w   io.WriteCloser
	enc *json.Encoder
}

func NewJSONLines(w io.WriteCloser) *JSONLines {
	return &JSONLines{w: w, enc: json.NewEncoder(w)}
}

func (j *JSONLines) Write(_ context.Context, det model.Detection) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(det)
}

func (j *JSONLines) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.w.Close()
}
