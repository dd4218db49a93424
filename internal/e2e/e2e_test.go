package e2e

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mattjoyce/ipcmux/internal/api"
	"github.com/mattjoyce/ipcmux/internal/config"
	"github.com/mattjoyce/ipcmux/internal/events"
	"github.com/mattjoyce/ipcmux/internal/fault"
	"github.com/mattjoyce/ipcmux/internal/host"
	"github.com/mattjoyce/ipcmux/internal/ipc"
	"github.com/mattjoyce/ipcmux/internal/log"
	"github.com/mattjoyce/ipcmux/internal/protocol"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

// failOnAbort turns an integrity abort into a test failure.
func failOnAbort(t *testing.T) *fault.Policy {
	return &fault.Policy{
		Logger: log.WithComponent("e2e"),
		Abort:  func(err error) { t.Errorf("integrity violation: %v", err) },
	}
}

func loadConfig(t *testing.T, body string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return cfg
}

func startHost(t *testing.T, h *host.Host) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		h.Drain()
		_ = h.Close()
	})
}

func TestHTTPRelayToWorkers(t *testing.T) {
	dir := t.TempDir()
	cfg := loadConfig(t, fmt.Sprintf(`
api:
  enabled: true
  listen: 127.0.0.1:0
journal:
  enabled: true
  path: %s
workers:
  echo:
    enabled: true
  status:
    enabled: true
`, filepath.Join(dir, "journal.db")))

	h, err := host.New(context.Background(), cfg, host.Options{Policy: failOnAbort(t)})
	if err != nil {
		t.Fatalf("host.New: %v", err)
	}
	srv := api.New(api.Config{}, h.Registry(), h.Relay(), h.Journal(), h.Gatherer(), log.WithComponent("api")).
		WithEvents(h.Events())
	startHost(t, h)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	post := func(worker, body string) api.CommandResponse {
		t.Helper()
		resp, err := http.Post(ts.URL+"/workers/"+worker+"/commands", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("POST: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			t.Fatalf("POST %s: status %d: %s", worker, resp.StatusCode, b)
		}
		var out api.CommandResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return out
	}

	if got := post("echo", `{"command":"PING"}`); got.Text != "PING" || got.Status != int(protocol.StatusOK) {
		t.Fatalf("echo reply = %+v", got)
	}
	if got := post("status", `{"command":"ping"}`); !strings.HasPrefix(got.Text, "PONG ") {
		t.Fatalf("status reply = %+v", got)
	}
	if got := post("status", `{"command":"bogus"}`); got.Status != int(protocol.StatusUnknown) {
		t.Fatalf("unknown command reply = %+v", got)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(ts.URL + "/workers/status/journal")
		if err != nil {
			t.Fatalf("GET journal: %v", err)
		}
		var j api.JournalResponse
		err = json.NewDecoder(resp.Body).Decode(&j)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("decode journal: %v", err)
		}
		if len(j.Entries) == 2 {
			if j.Entries[0].Preview != "bogus" {
				t.Fatalf("newest entry first, got %+v", j.Entries)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("journal entries = %+v, want 2", j.Entries)
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, want := range []string{
		`ipcmux_commands_total{class="success",status="200",worker="echo"} 1`,
		`ipcmux_channels_registered{serviced="true",worker="echo"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics lack %s", want)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events?worker=echo", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev events.Event
		if err := json.Unmarshal([]byte(line[6:]), &ev); err != nil {
			t.Fatalf("decode event %q: %v", line, err)
		}
		if ev.Worker != "echo" {
			t.Fatalf("event for %q leaked through the worker filter", ev.Worker)
		}
		if ev.Type == events.TypeCommand {
			return
		}
	}
	t.Fatalf("no command event for echo: %v", scanner.Err())
}

func TestConcurrentCallers(t *testing.T) {
	cfg := loadConfig(t, `
workers:
  echo:
    enabled: true
    max_channels: 16
  status:
    enabled: true
`)
	h, err := host.New(context.Background(), cfg, host.Options{Policy: failOnAbort(t)})
	if err != nil {
		t.Fatalf("host.New: %v", err)
	}

	const callers = 8
	handles := make([]*ipc.Handle, callers)
	for i := range handles {
		worker := "echo"
		if i%2 == 1 {
			worker = "status"
		}
		if handles[i], err = h.Register(worker); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	startHost(t, h)

	var wg sync.WaitGroup
	for i, handle := range handles {
		wg.Add(1)
		go func(i int, handle *ipc.Handle) {
			defer wg.Done()
			for n := range 20 {
				var cmd string
				if handle.Worker() == "echo" {
					cmd = fmt.Sprintf("caller %d message %d", i, n)
				} else {
					cmd = "ping"
				}
				res, err := handle.Send(context.Background(), []byte(cmd))
				if err != nil {
					t.Errorf("caller %d: %v", i, err)
					return
				}
				if handle.Worker() == "echo" && res.Text != cmd {
					t.Errorf("caller %d got %q, want %q", i, res.Text, cmd)
					return
				}
				if handle.Worker() == "status" && !strings.HasPrefix(res.Text, "PONG ") {
					t.Errorf("caller %d got %q", i, res.Text)
					return
				}
			}
		}(i, handle)
	}
	wg.Wait()
}

func TestSharedHandleIsAnIntegrityViolation(t *testing.T) {
	cfg := loadConfig(t, "workers:\n  echo:\n    enabled: true\n")

	aborted := make(chan error, 1)
	policy := &fault.Policy{
		Logger: log.WithComponent("e2e"),
		Abort:  func(err error) { aborted <- err },
	}
	h, err := host.New(context.Background(), cfg, host.Options{Policy: policy})
	if err != nil {
		t.Fatalf("host.New: %v", err)
	}
	handle, err := h.Register("echo")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	startHost(t, h)

	if _, err := handle.Send(context.Background(), []byte("mine")); err != nil {
		t.Fatalf("first send: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := handle.Send(context.Background(), []byte("stolen"))
		errCh <- policy.Handle(err)
	}()

	err = <-errCh
	if !fault.Is(err, fault.KindOwnership) {
		t.Fatalf("second goroutine error = %v, want ownership violation", err)
	}
	select {
	case <-aborted:
	case <-time.After(time.Second):
		t.Fatal("policy did not abort")
	}
}
