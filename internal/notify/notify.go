// Package notify carries fire-and-forget toasts from server-side flows to the
// browser. Toasts are queued per session and drained by the client.
package notify

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

type Toast struct {
	Level       Level     `json:"level"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Notifier is the notification surface. Implementations must not block.
type Notifier interface {
	Success(title, description string)
	Error(title, description string)
	Info(title, description string)
}

// DefaultCapacity bounds a queue nobody drains.
const DefaultCapacity = 50

// Queue buffers toasts until Drain. The oldest toast is dropped when full.
type Queue struct {
	mu       sync.Mutex
	toasts   []Toast
	capacity int
	logger   *logrus.Entry
}

func NewQueue(capacity int, logger *logrus.Entry) *Queue {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Queue{capacity: capacity, logger: logger}
}

func (q *Queue) Success(title, description string) { q.push(LevelSuccess, title, description) }
func (q *Queue) Error(title, description string)   { q.push(LevelError, title, description) }
func (q *Queue) Info(title, description string)    { q.push(LevelInfo, title, description) }

func (q *Queue) push(level Level, title, description string) {
	if q.logger != nil {
		q.logger.WithFields(logrus.Fields{
			"level_toast": level,
			"title":       title,
			"description": description,
		}).Info("Notification queued")
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.toasts) == q.capacity {
		q.toasts = q.toasts[1:]
	}
	q.toasts = append(q.toasts, Toast{
		Level:       level,
		Title:       title,
		Description: description,
		CreatedAt:   time.Now(),
	})
}

// Drain returns queued toasts in arrival order and empties the queue.
func (q *Queue) Drain() []Toast {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.toasts
	q.toasts = nil
	if out == nil {
		return []Toast{}
	}
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.toasts)
}
