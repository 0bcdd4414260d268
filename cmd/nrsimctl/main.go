package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/inspect"
)

func main() {
	var (
		addr    string
		timeout time.Duration
	)

	root := &cobra.Command{
		Use:          "nrsimctl",
		Short:        "Inspect running simulator nodes",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&addr, "addr", "127.0.0.1:7000", "inspection address of the node")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")

	root.AddCommand(&cobra.Command{
		Use:   "snapshot",
		Short: "Print the state of a hub, gNB or UE as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			conn, err := grpc.DialContext(ctx, addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("dial %s: %w", addr, err)
			}
			defer conn.Close()

			s, err := inspect.Fetch(ctx, conn)
			if err != nil {
				return err
			}
			out, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(s)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	})

	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
