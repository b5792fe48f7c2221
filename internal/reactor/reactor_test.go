package reactor

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/atan135/reactor/internal/connection"
)

func startTestReactor(t *testing.T, maxConn int, handler connection.Handler) (*Reactor, int) {
	t.Helper()

	var rx *Reactor
	var port int
	var err error

	// Ports can occasionally be in TIME_WAIT from a prior test; retry a
	// handful of candidates rather than flake.
	for i := 0; i < 5; i++ {
		port = 20000 + i*7 + int(time.Now().UnixNano()%1000)
		rx = New(Config{Port: port, MaxConnections: maxConn, ThreadCount: 2})
		rx.SetMessageHandler(handler)
		if err = rx.Start(); err == nil {
			break
		}
	}
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	go rx.Run()
	t.Cleanup(rx.Stop)

	// Give the accept loop a moment to be ready for connections.
	time.Sleep(20 * time.Millisecond)
	return rx, port
}

func TestEchoScenario(t *testing.T) {
	handler := func(frame []byte, c *connection.Connection) {
		reply := append([]byte("Server received: "), frame...)
		c.SendMessage(reply)
	}
	_, port := startTestReactor(t, 10, handler)

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("hello\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if line != "Server received: hello\n" {
		t.Fatalf("got %q, want %q", line, "Server received: hello\n")
	}
}

func TestMultipleFramesInOneWrite(t *testing.T) {
	var mu sync.Mutex
	var got []string
	handler := func(frame []byte, c *connection.Connection) {
		mu.Lock()
		got = append(got, string(frame))
		mu.Unlock()
	}
	_, port := startTestReactor(t, 10, handler)

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	conn.Write([]byte("a\nb\nc\n"))
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("got %v, want [a b c]", got)
	}
}

func TestMaxConnectionsEnforced(t *testing.T) {
	rx, port := startTestReactor(t, 1, func([]byte, *connection.Connection) {})

	first, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("Dial first: %v", err)
	}
	defer first.Close()

	time.Sleep(50 * time.Millisecond)
	if got := rx.ConnectionCount(); got != 1 {
		t.Fatalf("ConnectionCount() = %d, want 1", got)
	}

	second, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("Dial second: %v", err)
	}
	defer second.Close()

	// The reactor should have closed the second socket immediately
	// after accepting it, since it would exceed max_connections.
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, readErr := second.Read(buf)
	if readErr == nil {
		t.Fatal("expected the over-limit connection to be closed by the server")
	}
}

func TestBroadcast(t *testing.T) {
	rx, port := startTestReactor(t, 10, func([]byte, *connection.Connection) {})

	const n = 5
	conns := make([]net.Conn, n)
	for i := 0; i < n; i++ {
		c, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			t.Fatalf("Dial %d: %v", i, err)
		}
		conns[i] = c
		defer c.Close()
	}
	time.Sleep(50 * time.Millisecond)

	rx.Broadcast([]byte("hi"))

	for i, c := range conns {
		c.SetReadDeadline(time.Now().Add(2 * time.Second))
		line, err := bufio.NewReader(c).ReadString('\n')
		if err != nil {
			t.Fatalf("client %d ReadString: %v", i, err)
		}
		if line != "hi\n" {
			t.Fatalf("client %d got %q, want %q", i, line, "hi\n")
		}
	}
}

func TestConnectionCountAfterDisconnect(t *testing.T) {
	rx, port := startTestReactor(t, 10, func([]byte, *connection.Connection) {})

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := rx.ConnectionCount(); got != 1 {
		t.Fatalf("ConnectionCount() = %d, want 1", got)
	}

	conn.Close()
	time.Sleep(200 * time.Millisecond)
	if got := rx.ConnectionCount(); got != 0 {
		t.Fatalf("ConnectionCount() after disconnect = %d, want 0", got)
	}
}
