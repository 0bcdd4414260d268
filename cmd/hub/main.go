package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/app"
	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/hub"
	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/io"
	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/metrics"
)

func main() {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "hub",
		Short: "Registration and routing hub of the radio simulator",
		Long: `The hub keeps the directory of registered gNBs and UEs and relays
their datagrams: unicast to the addressed node, broadcast to every other node.`,
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return app.BindFlags(v, cmd, nil)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.Setup(v, cmd)
			if err != nil {
				return err
			}
			defer rt.Logger.Sync()

			h := hub.New(io.NewUDP(rt.Config.Hub.Host, rt.Logger), rt.Logger, metrics.NewHub(rt.Registry))
			if err := h.Start(rt.Config.Hub.Port); err != nil {
				return err
			}
			defer h.Stop()

			ctx, stop := app.SignalContext()
			defer stop()
			if err := rt.Serve(ctx, h); err != nil {
				return err
			}

			<-ctx.Done()
			rt.Logger.Info("shutting down")
			return nil
		},
	}
	app.AddCommonFlags(cmd)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
