package main

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/wireproto/engine/internal/config"
	"github.com/wireproto/engine/pkg/applayer"
	"github.com/wireproto/engine/pkg/filter/header"
)

var dialCmd = &cobra.Command{
	Use:   "dial <address>",
	Short: "Connect to a wireengine serve listener and relay stdin/stdout",
	Args:  cobra.ExactArgs(1),
	RunE:  runDial,
}

func init() {
	dialCmd.Flags().Bool("tls", false, "Wrap the stack in a TLS filter")
	v.BindPFlag("dial.tls", dialCmd.Flags().Lookup("tls"))
	rootCmd.AddCommand(dialCmd)
}

func runDial(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	eng, err := newEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer eng.close()

	address := args[0]
	rawConn, err := net.Dial("tcp", address)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	conn := rawConn.(*net.TCPConn)

	var tlsConfig *tls.Config
	if v.GetBool("dial.tls") {
		host, _, splitErr := net.SplitHostPort(address)
		if splitErr != nil {
			host = address
		}
		tlsConfig, err = clientTLSConfig(cfg, host)
		if err != nil {
			return err
		}
	}

	onPeerHeader := header.Listener(func(peer header.Dict) error { return nil })
	st, err := eng.buildStack(ctx, conn, address, true, tlsConfig, onPeerHeader)
	if err != nil {
		return fmt.Errorf("dial: building stack: %w", err)
	}
	defer st.Close(nil)

	endpoint := st.Endpoint().(*applayer.Conn)

	done := make(chan struct{})
	go func() {
		defer close(done)
		io.Copy(os.Stdout, endpoint)
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if _, err := endpoint.Write(append(scanner.Bytes(), '\n')); err != nil {
			return fmt.Errorf("dial: write: %w", err)
		}
	}
	<-done
	return nil
}
