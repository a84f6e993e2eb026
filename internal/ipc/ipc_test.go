package ipc

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"
)

func TestMalformedFrameReturnsErrorAndConnStaysOpen(t *testing.T) {
	s := New(0, nil)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s.listener = l
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go s.handleConn(conn)
		}
	}()
	go func() {
		for cmd := range s.inbox {
			cmd.Reply <- Response{OK: true, Data: "ok"}
		}
	}()

	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)

	if _, err := conn.Write([]byte("not json\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := reader.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.OK {
		t.Fatalf("expected error response for malformed frame")
	}

	if _, err := conn.Write([]byte(`{"cmd":"snapshot"}` + "\n")); err != nil {
		t.Fatalf("write after malformed frame: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err = reader.ReadBytes('\n')
	if err != nil {
		t.Fatalf("connection should remain open after malformed frame: %v", err)
	}
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("unmarshal second response: %v", err)
	}
	if !resp.OK {
		t.Fatalf("expected ok response for valid frame")
	}
}
