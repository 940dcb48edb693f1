package server

import (
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/beriberikix/usbipd-mac/usbiperr"
)

func freePort(t *testing.T) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("failed to find a free port: %v", err)
	}
	defer ln.Close()
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("Atoi: %v", err)
	}
	return uint16(port)
}

func TestStartStopLifecycle(t *testing.T) {
	s := &Server{}
	port := freePort(t)

	if err := s.Start(port); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.IsRunning() {
		t.Fatal("expected IsRunning() == true after Start")
	}

	if err := s.Start(port); usbiperr.KindOf(err) != usbiperr.KindAlreadyRunning {
		t.Fatalf("Start while running = %v, want AlreadyRunning", err)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.IsRunning() {
		t.Fatal("expected IsRunning() == false after Stop")
	}

	if err := s.Stop(); usbiperr.KindOf(err) != usbiperr.KindNotRunning {
		t.Fatalf("Stop while stopped = %v, want NotRunning", err)
	}
}

func TestAcceptsAndNotifiesConnection(t *testing.T) {
	s := &Server{}
	port := freePort(t)

	var mu sync.Mutex
	var connected []*ClientConnection
	connCh := make(chan struct{}, 1)
	s.OnClientConnected(func(c *ClientConnection) {
		mu.Lock()
		connected = append(connected, c)
		mu.Unlock()
		connCh <- struct{}{}
	})

	if err := s.Start(port); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(int(port)))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	select {
	case <-connCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnClientConnected")
	}

	mu.Lock()
	n := len(connected)
	mu.Unlock()
	if n != 1 {
		t.Fatalf("connected count = %d, want 1", n)
	}
}

func TestDataReceivedEchoesBytes(t *testing.T) {
	s := &Server{}
	port := freePort(t)

	dataCh := make(chan []byte, 1)
	s.OnClientConnected(func(c *ClientConnection) {
		c.OnDataReceived(func(b []byte) {
			_ = c.Send(b)
			dataCh <- b
		})
	})

	if err := s.Start(port); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(int(port)))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	msg := []byte("hello")
	if _, err := conn.Write(msg); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case got := <-dataCh:
		if string(got) != "hello" {
			t.Errorf("received %q, want %q", got, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for data")
	}

	reply := make([]byte, len(msg))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := readFull(conn, reply); err != nil {
		t.Fatalf("reading echo: %v", err)
	}
	if string(reply) != "hello" {
		t.Errorf("echo = %q, want %q", reply, "hello")
	}
}

func TestMaxConnectionsRejectsOverflow(t *testing.T) {
	s := &Server{MaxConnections: 1}
	port := freePort(t)

	if err := s.Start(port); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	addr := "127.0.0.1:" + strconv.Itoa(int(port))
	first, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer first.Close()

	time.Sleep(100 * time.Millisecond)

	second, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := second.Read(buf); err == nil {
		t.Fatal("expected the second connection to be closed when over capacity")
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
