package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/wireproto/engine/internal/config"
	"github.com/wireproto/engine/pkg/applayer"
	"github.com/wireproto/engine/pkg/bufpool"
	"github.com/wireproto/engine/pkg/filter/ack"
	"github.com/wireproto/engine/pkg/filter/header"
	tlsfilter "github.com/wireproto/engine/pkg/filter/tls"
	"github.com/wireproto/engine/pkg/hub"
	"github.com/wireproto/engine/pkg/logging"
	"github.com/wireproto/engine/pkg/netlayer"
	"github.com/wireproto/engine/pkg/stack"
)

// engine bundles the shared infrastructure every connection's stack is
// built on top of: one hub, one buffer pool, one event sink. Each
// stack gets its own Emitter over the shared sink so events carry the
// stack's own name, but the sink itself is opened and closed once.
type engine struct {
	cfg     *config.Config
	hub     *hub.Hub
	bufpool *bufpool.Pool
	sink    logging.Sink
}

func newEngine(ctx context.Context, cfg *config.Config) (*engine, error) {
	workers := cfg.HubWorkers
	if workers <= 0 {
		workers = hub.DefaultPoolSize()
	}
	pool := hub.NewPool(ctx, workers)
	h, err := hub.Create(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("creating hub: %w", err)
	}

	sink, err := openSink(cfg)
	if err != nil {
		return nil, err
	}

	return &engine{
		cfg:     cfg,
		hub:     h,
		bufpool: bufpool.New(cfg.SegmentSize, cfg.BufferPoolSize),
		sink:    sink,
	}, nil
}

func openSink(cfg *config.Config) (logging.Sink, error) {
	if cfg.EventSinkPath == "" {
		return nil, nil
	}
	switch cfg.EventSink {
	case "", "jsonl":
		return logging.NewJSONLWriter(cfg.EventSinkPath)
	case "cbor":
		return logging.NewCBORWriter(cfg.EventSinkPath)
	case "sqlite":
		return logging.NewSQLiteWriter(cfg.EventSinkPath)
	default:
		return nil, fmt.Errorf("engine: unknown event sink %q", cfg.EventSink)
	}
}

func (e *engine) close() {
	if e.sink != nil {
		_ = e.sink.Close()
	}
	_ = e.hub.Close()
}

// buildStack wires hub + NIO + ack + optional TLS + header + a byte
// sink application layer around conn, and returns the started Stack.
// isClient selects the TLS role (the ack and header filters behave the
// same on both sides); tlsConfig may be nil to skip the TLS filter
// entirely.
func (e *engine) buildStack(ctx context.Context, conn *net.TCPConn, name string, isClient bool, tlsConfig *tls.Config, onPeerHeader header.Listener) (*stack.Stack, error) {
	nio := netlayer.NewNIOWithIdleTimeout(conn, e.hub, e.bufpool, e.cfg.SegmentSize, e.cfg.HalfCloseIdleTimeout)

	magic := []byte(e.cfg.AckMagic)
	if len(magic) == 0 {
		magic = ack.DefaultMagic
	}
	ackFilter := ack.New(magic)

	localDict := header.Dict{}
	for k, val := range e.cfg.HeaderDict {
		v := val
		localDict[k] = &v
	}
	headerFilter := header.New(localDict, onPeerHeader)

	builder := stack.On(nio).Filter(ackFilter)
	if tlsConfig != nil {
		builder = builder.Filter(tlsfilter.New(tlsConfig, isClient, e.hub.Execute, nil, e.cfg.SegmentSize))
	}
	builder = builder.Filter(headerFilter).Named(name)
	if e.sink != nil {
		builder = builder.WithEmitter(logging.NewEmitter(logging.EmitterConfig{StackName: name}, e.sink))
	}

	app := applayer.NewByteSink(e.cfg.SegmentSize)
	return builder.Build(ctx, app)
}
