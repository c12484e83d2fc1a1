package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wireproto/engine/internal/config"
	"github.com/wireproto/engine/pkg/applayer"
	"github.com/wireproto/engine/pkg/filter/header"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept connections and echo every stack's cleartext stream",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("address", "127.0.0.1:9443", "Address to listen on")
	serveCmd.Flags().Bool("tls", false, "Require a TLS filter in the stack")
	v.BindPFlag("serve.address", serveCmd.Flags().Lookup("address"))
	v.BindPFlag("serve.tls", serveCmd.Flags().Lookup("tls"))
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	eng, err := newEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer eng.close()

	address := v.GetString("serve.address")
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("serve: listen: %w", err)
	}
	defer ln.Close()
	fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", ln.Addr())

	var tlsConfig *tls.Config
	if v.GetBool("serve.tls") || cfg.TLSCertFile != "" {
		tlsConfig, err = serverTLSConfig(cfg)
		if err != nil {
			return err
		}
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("serve: accept: %w", err)
		}
		go handleConn(ctx, eng, conn.(*net.TCPConn), tlsConfig)
	}
}

func handleConn(ctx context.Context, eng *engine, conn *net.TCPConn, tlsConfig *tls.Config) {
	onPeerHeader := header.Listener(func(peer header.Dict) error {
		return nil
	})
	st, err := eng.buildStack(ctx, conn, conn.RemoteAddr().String(), false, tlsConfig, onPeerHeader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stack build failed for %s: %v\n", conn.RemoteAddr(), err)
		conn.Close()
		return
	}

	endpoint := st.Endpoint().(*applayer.Conn)
	buf := make([]byte, 4096)
	for {
		n, err := endpoint.Read(buf)
		if n > 0 {
			if _, werr := endpoint.Write(buf[:n]); werr != nil {
				break
			}
		}
		if err != nil {
			if err != io.EOF {
				fmt.Fprintf(os.Stderr, "stack %s closed: %v\n", st.Name(), err)
			}
			break
		}
	}
	_ = st.Close(nil)
}
