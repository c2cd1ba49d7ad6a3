package game

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"pkt.systems/mudgate/core"
	"pkt.systems/mudgate/internal/eventbus"
	"pkt.systems/mudgate/schema"
)

func TestReadLineStripsTelnetNegotiation(t *testing.T) {
	// IAC WILL ECHO before the text, IAC GA after it.
	input := string([]byte{telnetIAC, 251, 1}) + "Welcome\r\n" + string([]byte{telnetIAC, 249})
	r := bufio.NewReader(strings.NewReader(input))
	line, err := readLine(r)
	if err != nil {
		t.Fatalf("read line: %v", err)
	}
	if line != "Welcome" {
		t.Fatalf("line %q", line)
	}
}

func TestReadLineStripsSubnegotiation(t *testing.T) {
	input := string([]byte{telnetIAC, telnetSB, 24, 1, telnetIAC, telnetSE}) + "hello\n"
	r := bufio.NewReader(strings.NewReader(input))
	line, err := readLine(r)
	if err != nil {
		t.Fatalf("read line: %v", err)
	}
	if line != "hello" {
		t.Fatalf("line %q", line)
	}
}

func TestReadLineReturnsPartialOnEOF(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("prompt> "))
	line, err := readLine(r)
	if err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
	if line != "prompt> " {
		t.Fatalf("line %q", line)
	}
}

func TestRunFeedsLinesThroughPipeline(t *testing.T) {
	svc, err := core.NewService(schema.ServiceConfig{}, core.ServiceDeps{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client, err := svc.AttachClient(ctx, "c1", false)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := svc.MarkLoggedIn("c1"); err != nil {
		t.Fatalf("login: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Write([]byte("You are standing in a field.\r\nA bird sings.\r\n"))
		conn.Close()
	}()

	upstream := New(Config{Addr: ln.Addr().String(), Reconnect: time.Hour}, svc, nil)
	go upstream.Run(ctx)

	recvCtx, recvCancel := context.WithTimeout(ctx, 5*time.Second)
	defer recvCancel()
	first, err := client.Receive(recvCtx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if string(first.Payload) != "You are standing in a field.\r\n" {
		t.Fatalf("payload %q", first.Payload)
	}
	second, err := client.Receive(recvCtx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if string(second.Payload) != "A bird sings.\r\n" {
		t.Fatalf("payload %q", second.Payload)
	}
}

func TestRunPassesBlankLinesThrough(t *testing.T) {
	svc, err := core.NewService(schema.ServiceConfig{}, core.ServiceDeps{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	empties := make(chan string, 4)
	err = svc.Bus().Register(schema.EventLineEmpty, eventbus.Registration{
		Owner: "test", Name: "blank",
		Fn: func(ctx context.Context, args *eventbus.Args) (eventbus.Mutation, error) {
			empties <- args.Line
			return eventbus.Mutation{}, nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client, err := svc.AttachClient(ctx, "c1", false)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := svc.MarkLoggedIn("c1"); err != nil {
		t.Fatalf("login: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Write([]byte("before\r\n\r\nafter\r\n"))
		conn.Close()
	}()

	upstream := New(Config{Addr: ln.Addr().String(), Reconnect: time.Hour}, svc, nil)
	go upstream.Run(ctx)

	recvCtx, recvCancel := context.WithTimeout(ctx, 5*time.Second)
	defer recvCancel()
	want := []string{"before\r\n", "\r\n", "after\r\n"}
	for _, payload := range want {
		rec, err := client.Receive(recvCtx)
		if err != nil {
			t.Fatalf("receive: %v", err)
		}
		if string(rec.Payload) != payload {
			t.Fatalf("payload %q, want %q", rec.Payload, payload)
		}
	}
	select {
	case line := <-empties:
		if line != "" {
			t.Fatalf("empty-line event carried %q", line)
		}
	default:
		t.Fatalf("blank line never raised the empty-line event")
	}
}

func TestWriteRequiresConnection(t *testing.T) {
	svc, err := core.NewService(schema.ServiceConfig{}, core.ServiceDeps{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	upstream := New(Config{Addr: "127.0.0.1:1"}, svc, nil)
	if err := upstream.Write(context.Background(), "north"); err != schema.ErrUpstreamClosed {
		t.Fatalf("expected upstream closed, got %v", err)
	}
}

func TestWriteAppendsTerminator(t *testing.T) {
	svc, err := core.NewService(schema.ServiceConfig{}, core.ServiceDeps{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		received <- line
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	upstream := New(Config{Addr: ln.Addr().String(), Reconnect: time.Hour}, svc, nil)
	go upstream.Run(ctx)

	deadline := time.After(5 * time.Second)
	for !upstream.Connected() {
		select {
		case <-deadline:
			t.Fatalf("never connected")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if err := upstream.Write(ctx, "north"); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case line := <-received:
		if line != "north\r\n" {
			t.Fatalf("upstream got %q", line)
		}
	case <-deadline:
		t.Fatalf("upstream never received input")
	}
}
