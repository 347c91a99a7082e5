package searchindex

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vocalmail/vocalmail/internal/model"
)

// fakeIndex implements Index (and HealthPinger) for tests.
type fakeIndex struct{ pingErr error }

func (f fakeIndex) UpsertMessage(context.Context, string, []float32, map[string]interface{}) error {
	return nil
}
func (f fakeIndex) Search(context.Context, string, []float32, int) ([]model.SearchHit, error) {
	return nil, nil
}
func (f fakeIndex) Exists(context.Context, string) (bool, error) { return false, nil }
func (f fakeIndex) Count(context.Context) (int, error)           { return 0, nil }
func (f fakeIndex) DeleteMessage(context.Context, string) error  { return nil }
func (f fakeIndex) HealthPing(ctx context.Context) error         { return f.pingErr }

// fallbackIdx implements Index WITHOUT HealthPinger.
type fallbackIdx struct{ countErr error }

func (f fallbackIdx) UpsertMessage(context.Context, string, []float32, map[string]interface{}) error {
	return nil
}
func (f fallbackIdx) Search(context.Context, string, []float32, int) ([]model.SearchHit, error) {
	return nil, nil
}
func (f fallbackIdx) Exists(context.Context, string) (bool, error) { return false, nil }
func (f fallbackIdx) Count(context.Context) (int, error)           { return 0, f.countErr }
func (f fallbackIdx) DeleteMessage(context.Context, string) error  { return nil }

func TestSearchIndexHealthChecker_WithHealthPinger(t *testing.T) {
	hc := NewSearchIndexHealthChecker(fakeIndex{}, zerolog.Nop(), time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	go hc.Start(ctx, 50*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for !hc.IsHealthy() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if !hc.IsHealthy() {
		t.Fatal("expected healthy after successful ping")
	}
}

func TestSearchIndexHealthChecker_PingFailure(t *testing.T) {
	hc := NewSearchIndexHealthChecker(fakeIndex{pingErr: errors.New("down")}, zerolog.Nop(), time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	go hc.Start(ctx, 50*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	cancel()
	if hc.IsHealthy() {
		t.Fatal("expected unhealthy when ping fails")
	}
}

func TestSearchIndexHealthChecker_FallbackUsesCount(t *testing.T) {
	hc := NewSearchIndexHealthChecker(fallbackIdx{}, zerolog.Nop(), time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	go hc.Start(ctx, 50*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for !hc.IsHealthy() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if !hc.IsHealthy() {
		t.Fatal("expected healthy via count fallback")
	}
}
