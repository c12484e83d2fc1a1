package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "wireengine",
	Short: "Drive the layered protocol engine over real TCP sockets",
	Long: `wireengine exercises the I/O hub, network layer, filter chain and
application layer end to end: serve accepts connections, dial connects
to one, and inspect-log prints back a recorded event sink.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
