package watch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/ipcmux/internal/api"
	"github.com/mattjoyce/ipcmux/internal/events"
)

type eventMsg events.Event

type healthMsg api.HealthzResponse

type workersMsg api.WorkersResponse

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// subscribeToEvents streams GET /events into ch until the connection drops.
func subscribeToEvents(apiURL, token string, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := newRequest(apiURL+"/events", token)
		if err != nil {
			return errMsg(err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errMsg(fmt.Errorf("GET /events: %s", resp.Status))
		}

		_ = readSSE(resp.Body, ch)
		return sseDisconnectedMsg{}
	}
}

// readSSE decodes server-sent events from r until EOF. Each data line
// holds a whole event; id and event lines override its fields.
func readSSE(r io.Reader, ch chan<- events.Event) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var (
		current events.Event
		have    bool
	)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if have {
				ch <- current
			}
			current, have = events.Event{}, false
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				current.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			current.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			id, typ := current.ID, current.Type
			if err := json.Unmarshal([]byte(line[6:]), &current); err != nil {
				continue
			}
			if id != 0 {
				current.ID = id
			}
			if typ != "" {
				current.Type = typ
			}
			have = true
		}
	}
	// A stream cut before its closing blank line still carries the event.
	if have {
		ch <- current
	}
	return scanner.Err()
}

func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

func fetchHealth(apiURL, token string) tea.Msg {
	var h api.HealthzResponse
	if err := getJSON(apiURL+"/healthz", token, &h); err != nil {
		return errMsg(err)
	}
	return healthMsg(h)
}

func fetchWorkers(apiURL, token string) tea.Msg {
	var w api.WorkersResponse
	if err := getJSON(apiURL+"/workers", token, &w); err != nil {
		return errMsg(err)
	}
	return workersMsg(w)
}

func getJSON(url, token string, out any) error {
	req, err := newRequest(url, token)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// /healthz answers 503 with a body when a dispatcher has stopped.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func newRequest(url, token string) (*http.Request, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}
