package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/app"
	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/gnb"
	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/io"
	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/metrics"
	"github.com/DmitriyRodin/5G-RAN-Simulator/pkg/simproto"
)

func main() {
	v := viper.New()

	cmd := &cobra.Command{
		Use:          "gnb",
		Short:        "Simulated 5G cell",
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return app.BindFlags(v, cmd, map[string]string{
				"id":   "gnb.id",
				"port": "gnb.port",
				"tac":  "gnb.tac",
			})
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.Setup(v, cmd)
			if err != nil {
				return err
			}
			defer rt.Logger.Sync()

			id := simproto.NodeID(rt.Config.Gnb.ID)
			opts := gnb.Options{
				Options: rt.EntityOptions("gnb", uint32(id)),
				Metrics: metrics.NewGnb(rt.Registry, uint32(id)),
			}
			cell := gnb.New(id, rt.Config.GnbConfig(), io.NewUDP("", rt.Logger), opts)
			defer cell.Close()

			// bind failures are fatal, there is no retry
			if err := cell.SetupNetwork(rt.Config.Gnb.Port); err != nil {
				return err
			}
			hubAddr, err := rt.HubAddr()
			if err != nil {
				return err
			}
			if err := cell.RegisterAtHub(hubAddr); err != nil {
				return err
			}

			ctx, stop := app.SignalContext()
			defer stop()
			if err := rt.Serve(ctx, cell); err != nil {
				return err
			}

			<-ctx.Done()
			rt.Logger.Info("shutting down", zap.Stringer("gnb", id))
			return nil
		},
	}
	app.AddCommonFlags(cmd)
	cmd.Flags().Uint32("id", 1, "gNB node id")
	cmd.Flags().Int("port", 0, "local UDP port, 0 for ephemeral")
	cmd.Flags().Uint16("tac", 100, "tracking area code announced in SIB1")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
