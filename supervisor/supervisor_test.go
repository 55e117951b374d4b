package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/socialbot/botlog"
	"github.com/hazyhaar/socialbot/registry"
)

type exitErr int

func (e exitErr) Error() string { return fmt.Sprintf("exit status %d", int(e)) }
func (e exitErr) ExitCode() int { return int(e) }

type fakeProc struct {
	ctx   context.Context
	block bool
	exit  error
}

func (p *fakeProc) Pid() int { return 4242 }

func (p *fakeProc) Wait() error {
	if p.block {
		<-p.ctx.Done()
		return exitErr(143)
	}
	return p.exit
}

// scripted returns a Command whose n-th launch (from 0) behaves as
// step(n) says.
type scripted struct {
	mu       sync.Mutex
	launches int
	step     func(n int) (block bool, exit error)
}

func (s *scripted) command(ctx context.Context, _ string) (Process, error) {
	s.mu.Lock()
	n := s.launches
	s.launches++
	s.mu.Unlock()
	block, exit := s.step(n)
	return &fakeProc{ctx: ctx, block: block, exit: exit}, nil
}

func (s *scripted) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.launches
}

type recorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recorder) all() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.waits...)
}

type staticAccounts struct{ snap *registry.Snapshot }

func (a staticAccounts) Snapshot() *registry.Snapshot { return a.snap }

func waitStopped(t *testing.T, s *Supervisor, user string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for s.Running(user) {
		if time.Now().After(deadline) {
			t.Fatalf("%s still running", user)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readLog(t *testing.T, dir, user string) string {
	t.Helper()
	b, err := os.ReadFile(botlog.Path(dir, user))
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestStartStop(t *testing.T) {
	dir := t.TempDir()
	sc := &scripted{step: func(int) (bool, error) { return true, nil }}
	s := New(Config{LogDir: dir}, sc.command)
	defer s.Close()

	if err := s.Start("alice"); err != nil {
		t.Fatal(err)
	}
	if err := s.Start("alice"); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second start: got %v, want ErrAlreadyRunning", err)
	}
	if !s.Running("alice") {
		t.Fatal("alice not running")
	}
	if err := s.Stop("alice"); err != nil {
		t.Fatal(err)
	}
	if s.Running("alice") {
		t.Fatal("alice still running after Stop")
	}
	if err := s.Stop("alice"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("second stop: got %v, want ErrNotRunning", err)
	}
	if sc.count() != 1 {
		t.Errorf("launches: got %d, want 1", sc.count())
	}
	if log := readLog(t, dir, "alice"); !strings.Contains(log, "] Manually stopped") {
		t.Errorf("log: %q", log)
	}
}

func TestCrashLoopGivesUp(t *testing.T) {
	dir := t.TempDir()
	sc := &scripted{step: func(int) (bool, error) { return false, exitErr(1) }}
	rec := &recorder{}
	s := New(Config{LogDir: dir, MaxRestarts: 3}, sc.command, WithSleepFunc(rec.sleep))
	defer s.Close()

	if err := s.Start("alice"); err != nil {
		t.Fatal(err)
	}
	waitStopped(t, s, "alice")

	if sc.count() != 4 {
		t.Errorf("launches: got %d, want 4", sc.count())
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	got := rec.all()
	if len(got) != len(want) {
		t.Fatalf("backoffs: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("backoff[%d]: got %v, want %v", i, got[i], want[i])
		}
	}
	if log := readLog(t, dir, "alice"); !strings.Contains(log, "] ERROR: Bot crashed after 3 restarts") {
		t.Errorf("log: %q", log)
	}
}

func TestRestartThenRuns(t *testing.T) {
	sc := &scripted{step: func(n int) (bool, error) {
		if n == 0 {
			return false, errors.New("signal: killed")
		}
		return true, nil
	}}
	s := New(Config{}, sc.command, WithSleepFunc((&recorder{}).sleep))
	defer s.Close()

	if err := s.Start("alice"); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for sc.count() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("bot not restarted")
		}
		time.Sleep(5 * time.Millisecond)
	}
	list := s.List()
	if len(list) != 1 || list[0].Username != "alice" || list[0].Restarts != 1 || list[0].PID != 4242 {
		t.Errorf("list: %+v", list)
	}
}

func TestNoRestartOnConfigErrorOrStop(t *testing.T) {
	for _, code := range []int{2, 3} {
		sc := &scripted{step: func(int) (bool, error) { return false, exitErr(code) }}
		s := New(Config{}, sc.command, WithSleepFunc((&recorder{}).sleep))
		if err := s.Start("alice"); err != nil {
			t.Fatal(err)
		}
		waitStopped(t, s, "alice")
		if sc.count() != 1 {
			t.Errorf("exit %d: launches %d, want 1", code, sc.count())
		}
		s.Close()
	}
}

func TestCleanExitNotRestarted(t *testing.T) {
	sc := &scripted{step: func(int) (bool, error) { return false, nil }}
	s := New(Config{}, sc.command)
	defer s.Close()
	if err := s.Start("alice"); err != nil {
		t.Fatal(err)
	}
	waitStopped(t, s, "alice")
	if sc.count() != 1 {
		t.Errorf("launches: %d", sc.count())
	}
}

func TestUnknownAccountRefused(t *testing.T) {
	snap, err := registry.NewSnapshot([]registry.Account{{Username: "alice", Password: "pw"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	sc := &scripted{step: func(int) (bool, error) { return true, nil }}
	s := New(Config{}, sc.command, WithAccounts(staticAccounts{snap}))
	defer s.Close()

	if err := s.Start("mallory"); !errors.Is(err, registry.ErrUnknownAccount) {
		t.Fatalf("start: got %v, want ErrUnknownAccount", err)
	}
	if sc.count() != 0 {
		t.Error("process launched for an unknown account")
	}
	if err := s.Start("alice"); err != nil {
		t.Fatal(err)
	}
}

func TestCloseStopsEverything(t *testing.T) {
	sc := &scripted{step: func(int) (bool, error) { return true, nil }}
	s := New(Config{}, sc.command)
	for _, u := range []string{"alice", "bob"} {
		if err := s.Start(u); err != nil {
			t.Fatal(err)
		}
	}
	s.Close()
	if s.Running("alice") || s.Running("bob") {
		t.Error("bots still running after Close")
	}
	if err := s.Start("carol"); !errors.Is(err, ErrClosed) {
		t.Errorf("start after close: got %v", err)
	}
}

func TestBackoff(t *testing.T) {
	want := []time.Duration{1, 2, 4, 8, 16, 32, 60, 60}
	for i, w := range want {
		if got := backoff(time.Second, time.Minute, i+1); got != w*time.Second {
			t.Errorf("backoff(%d): got %v, want %v", i+1, got, w*time.Second)
		}
	}
}

func TestExecCommand(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	cmd := Exec{Binary: "/bin/sh", Args: []string{"-c", `test "$2" = alice && exit 3`, "sh"}}.Command()
	p, err := cmd(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if got := exitCode(p.Wait()); got != 3 {
		t.Errorf("exit code: got %d, want 3", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p, err = Exec{Binary: "/bin/sh", Args: []string{"-c", "exec sleep 30", "sh"}, GracePeriod: time.Second}.Command()(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	done := make(chan error, 1)
	go func() { done <- p.Wait() }()
	select {
	case err := <-done:
		if err == nil {
			t.Error("cancelled process reported success")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("process not terminated on cancel")
	}
}
