package runner_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/navicore/spec-service/pkg/runner"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fakeService struct {
	name       string
	rec        *recorder
	startErr   error
	stopErr    error
	blockStart bool
	blockStop  bool
}

func (f *fakeService) Name() string { return f.name }

func (f *fakeService) Start(ctx context.Context) error {
	if f.blockStart {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.startErr != nil {
		return f.startErr
	}
	f.rec.add("start " + f.name)
	return nil
}

func (f *fakeService) Stop(ctx context.Context) error {
	if f.blockStop {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.stopErr != nil {
		return f.stopErr
	}
	f.rec.add("stop " + f.name)
	return nil
}

type healthService struct {
	fakeService
	healthErr error
}

func (h *healthService) HealthCheck(context.Context) error {
	return h.healthErr
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestRunStartsInOrderAndStopsInReverse(t *testing.T) {
	rec := &recorder{}
	services := []runner.Service{
		&fakeService{name: "store", rec: rec},
		&fakeService{name: "projector", rec: rec},
		&fakeService{name: "api", rec: rec},
	}
	r := runner.New(services)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	waitFor(t, func() bool { return len(rec.list()) == 3 })
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	want := []string{
		"start store", "start projector", "start api",
		"stop api", "stop projector", "stop store",
	}
	got := rec.list()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := 0; i < len(want); i++ {
		if got[i] != want[i] {
			t.Fatalf("events[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRunStopsStartedServicesOnFailedStart(t *testing.T) {
	rec := &recorder{}
	services := []runner.Service{
		&fakeService{name: "store", rec: rec},
		&fakeService{name: "projector", rec: rec, startErr: errors.New("no database")},
		&fakeService{name: "api", rec: rec},
	}
	r := runner.New(services)

	err := r.Run(context.Background())
	if err == nil {
		t.Fatal("expected start failure")
	}
	if !strings.Contains(err.Error(), "start projector") {
		t.Errorf("error = %v, want mention of projector", err)
	}

	got := rec.list()
	want := []string{"start store", "stop store"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestRunStartupTimeout(t *testing.T) {
	rec := &recorder{}
	services := []runner.Service{
		&fakeService{name: "hung", rec: rec, blockStart: true},
	}
	r := runner.New(services, runner.WithStartupTimeout(50*time.Millisecond))

	start := time.Now()
	err := r.Run(context.Background())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("startup timeout took %v", elapsed)
	}
}

func TestRunStopTimeoutReported(t *testing.T) {
	rec := &recorder{}
	services := []runner.Service{
		&fakeService{name: "ok", rec: rec},
		&fakeService{name: "hung", rec: rec, blockStop: true},
	}
	r := runner.New(services, runner.WithShutdownTimeout(50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	waitFor(t, func() bool { return len(rec.list()) == 2 })
	cancel()

	select {
	case err := <-errCh:
		if err == nil || !strings.Contains(err.Error(), "stop hung") {
			t.Errorf("error = %v, want stop hung failure", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	// The healthy service still gets its Stop call.
	events := rec.list()
	found := false
	for _, e := range events {
		if e == "stop ok" {
			found = true
		}
	}
	if !found {
		t.Errorf("events = %v, want stop ok present", events)
	}
}

func TestHealthCheck(t *testing.T) {
	rec := &recorder{}
	healthy := &healthService{fakeService: fakeService{name: "good", rec: rec}}
	plain := &fakeService{name: "plain", rec: rec}

	r := runner.New([]runner.Service{healthy, plain})
	if err := r.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}

	sick := &healthService{
		fakeService: fakeService{name: "bad", rec: rec},
		healthErr:   errors.New("disk full"),
	}
	r = runner.New([]runner.Service{healthy, sick})
	err := r.HealthCheck(context.Background())
	if err == nil {
		t.Fatal("expected unhealthy report")
	}
	if !strings.Contains(err.Error(), "bad") || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("error = %v, want service name and cause", err)
	}
}
