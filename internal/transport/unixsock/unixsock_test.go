package unixsock

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/agenticklabs/agentick/internal/transport"
)

func startTransport(t *testing.T) (*Transport, string) {
	t.Helper()
	// Socket paths have a tight length limit; keep the dir short.
	dir, err := os.MkdirTemp("", "ux")
	if err != nil {
		t.Fatalf("tempdir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, "t.sock")
	tr := New(Config{Path: path})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { tr.Stop(context.Background()) })
	return tr, path
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestRoundTripOverSocket(t *testing.T) {
	tr, path := startTransport(t)

	var mu sync.Mutex
	var got []string
	var conns []transport.Client
	tr.OnConnection(func(c transport.Client) {
		mu.Lock()
		conns = append(conns, c)
		mu.Unlock()
	})
	tr.OnMessage(func(c transport.Client, data []byte) {
		mu.Lock()
		got = append(got, string(data))
		mu.Unlock()
		// Echo a response frame back.
		c.Send(transport.NewResult("r1", json.RawMessage(`{"pong":true}`)))
	})

	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(`{"type":"req","id":"r1","method":"status"}` + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, "message never dispatched")

	mu.Lock()
	if got[0] != `{"type":"req","id":"r1","method":"status"}` {
		t.Errorf("dispatched frame = %s", got[0])
	}
	if len(conns) != 1 || !conns[0].IsConnected() {
		t.Errorf("connection not tracked: %v", conns)
	}
	mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	var f transport.Frame
	if err := json.Unmarshal(line, &f); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if f.Type != transport.FrameRes || f.ID != "r1" || f.OK == nil || !*f.OK {
		t.Errorf("response frame = %+v", f)
	}
}

func TestClientDisconnectDispatched(t *testing.T) {
	tr, path := startTransport(t)

	var mu sync.Mutex
	disconnects := 0
	tr.OnDisconnect(func(transport.Client, error) {
		mu.Lock()
		disconnects++
		mu.Unlock()
	})

	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return disconnects == 1
	}, "disconnect never dispatched")
}

func TestStopClosesClientsAndRemovesSocket(t *testing.T) {
	tr, path := startTransport(t)

	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Let the accept loop register the client before stopping.
	waitFor(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return len(tr.clients) == 1
	}, "client never registered")

	if err := tr.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	// The client receives a final close frame before the socket drops.
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatalf("reading close frame: %v", err)
	}
	var f transport.Frame
	if err := json.Unmarshal(line, &f); err != nil {
		t.Fatalf("decoding close frame: %v", err)
	}
	if f.Type != transport.FrameError {
		t.Errorf("close frame type = %q", f.Type)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("socket file still present after stop: %v", err)
	}
}

func TestOversizeAndBlankLines(t *testing.T) {
	tr, path := startTransport(t)

	var mu sync.Mutex
	var got int
	tr.OnMessage(func(transport.Client, []byte) {
		mu.Lock()
		got++
		mu.Unlock()
	})

	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Blank lines are skipped, surrounding frames still dispatch.
	if _, err := conn.Write([]byte("\n\n{\"type\":\"ping\"}\n\n{\"type\":\"ping\"}\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got == 2
	}, "frames never dispatched")
}
