package main

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/wireproto/engine/internal/config"
	"github.com/wireproto/engine/pkg/applayer"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.EventSinkPath = filepath.Join(t.TempDir(), "events.jsonl")
	return cfg
}

func TestEngine_BuildStackRoundTripsOverLoopback(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := newEngine(ctx, cfg)
	if err != nil {
		t.Fatalf("newEngine: %v", err)
	}
	defer eng.close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan *net.TCPConn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- c.(*net.TCPConn)
	}()

	clientRaw, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	serverConn := <-accepted
	clientConn := clientRaw.(*net.TCPConn)

	serverStack, err := eng.buildStack(ctx, serverConn, "server", false, nil, nil)
	if err != nil {
		t.Fatalf("server buildStack: %v", err)
	}
	defer serverStack.Close(nil)

	clientStack, err := eng.buildStack(ctx, clientConn, "client", true, nil, nil)
	if err != nil {
		t.Fatalf("client buildStack: %v", err)
	}
	defer clientStack.Close(nil)

	clientEndpoint := clientStack.Endpoint().(*applayer.Conn)
	serverEndpoint := serverStack.Endpoint().(*applayer.Conn)

	if _, err := clientEndpoint.Write([]byte("ping")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, 4)
	readDone := make(chan error, 1)
	go func() {
		_, err := serverEndpoint.Read(buf)
		readDone <- err
	}()

	select {
	case err := <-readDone:
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if string(buf) != "ping" {
			t.Fatalf("got %q, want ping", buf)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for header-exchanged stack to deliver bytes")
	}
}

func TestOpenSink_UnknownFormatErrors(t *testing.T) {
	cfg := testConfig(t)
	cfg.EventSink = "bogus"
	if _, err := openSink(cfg); err == nil {
		t.Fatalf("expected an error for an unknown event sink format")
	}
}
