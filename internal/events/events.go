// Package events ships leveled inventory events to the log-indexing endpoint.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/betbot/storedemo/internal/metrics"
)

// Level is the severity attached to an event document.
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarn     Level = "WARN"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
	LevelFatal    Level = "FATAL"
)

// TimestampLayout is UTC with microseconds and no zone suffix.
const TimestampLayout = "2006-01-02T15:04:05.000000"

const category = "inventory"

// Document is the JSON body posted for each event.
type Document struct {
	Timestamp string `json:"@timestamp"`
	Level     Level  `json:"level"`
	Message   string `json:"message"`
	Category  string `json:"category"`
}

func NewDocument(now time.Time, level Level, msg string) Document {
	return Document{
		Timestamp: now.UTC().Format(TimestampLayout),
		Level:     level,
		Message:   msg,
		Category:  category,
	}
}

// Sink posts documents to Elasticsearch. Delivery failures are logged and
// counted, never returned.
type Sink struct {
	client   *resty.Client
	endpoint string
	log      *logrus.Entry
	now      func() time.Time
}

// NewSink returns a sink posting to endpoint, e.g. http://localhost:9200/store/org.hawkular.
func NewSink(endpoint string, timeout time.Duration) *Sink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	// 不重试：事件丢失可以接受，阻塞模拟循环不可以
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json")

	return &Sink{
		client:   client,
		endpoint: strings.TrimSpace(endpoint),
		log:      logrus.WithField("component", "events"),
		now:      time.Now,
	}
}

// Send builds the document for level/msg, echoes it and posts it.
func (s *Sink) Send(ctx context.Context, level Level, msg string) error {
	body, err := json.Marshal(NewDocument(s.now(), level, msg))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	s.log.Infof("TO ELASTIC ==> %s", body)

	r := s.client.R().SetBody(body)
	if ctx != nil {
		r.SetContext(ctx)
	}
	resp, err := r.Post(s.endpoint)
	if err != nil {
		metrics.EventsFailed.Add(1)
		s.log.Warnf("post event failed: %v", err)
		return nil
	}
	if resp.IsError() {
		metrics.EventsFailed.Add(1)
		s.log.Warnf("post event rejected: status=%d body=%s", resp.StatusCode(), truncate(resp.String(), 256))
		return nil
	}
	metrics.EventsSent.Add(1)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Document
}

func (r *Recorder) Send(_ context.Context, level Level, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, NewDocument(time.Now(), level, msg))
	return nil
}

// Events returns a copy of what has been recorded.
func (r *Recorder) Events() []Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Document, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many recorded events have level.
func (r *Recorder) Count(level Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Level == level {
			n++
		}
	}
	return n
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
