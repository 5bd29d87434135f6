package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestCleanupHandlerRetentionWindow(t *testing.T) {
	var got time.Duration
	handlers := &DefaultHandlers{
		CleanupFunc: func(_ context.Context, olderThan time.Duration) error {
			got = olderThan
			return nil
		},
	}

	s := NewScheduler(nil, nil)
	handlers.Register(s)

	handler, ok := s.handlers[JobTypeCleanupOld]
	if !ok {
		t.Fatal("cleanup handler not registered")
	}

	// A job with an explicit window passes it through.
	job := &Job{JobType: JobTypeCleanupOld, Config: map[string]string{"retention_days": "7"}}
	if err := handler(context.Background(), job); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if got != 7*24*time.Hour {
		t.Errorf("olderThan = %v, want %v", got, 7*24*time.Hour)
	}

	// Without job config the handler receives zero, leaving the choice
	// of default to the wired cleanup function.
	if err := handler(context.Background(), &Job{JobType: JobTypeCleanupOld}); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if got != 0 {
		t.Errorf("olderThan without job config = %v, want 0", got)
	}
}
