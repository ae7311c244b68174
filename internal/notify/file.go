package notify

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// File appends notifications to a log file, one timestamped block per message.
type File struct {
	mu     sync.Mutex
	path   string
	now    func() time.Time
	logger *zap.Logger
}

// NewFile creates a file sink writing to path.
func NewFile(path string, logger *zap.Logger) *File {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &File{path: path, now: time.Now, logger: logger}
}

// Notify implements Notifier.
func (f *File) Notify(_ context.Context, msg Message) {
	if err := f.write(msg); err != nil {
		f.logger.Error("write notification", zap.String("path", f.path), zap.Error(err))
	}
}

func (f *File) write(msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(file, "%s %s %s\n%s\n\n",
		f.now().UTC().Format(time.RFC3339), msg.Level, msg.Subject, msg.Body)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	return err
}
