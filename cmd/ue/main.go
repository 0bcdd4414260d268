package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/app"
	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/io"
	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/metrics"
	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/ue"
	"github.com/DmitriyRodin/5G-RAN-Simulator/pkg/simproto"
)

func main() {
	v := viper.New()
	var (
		chatTo    uint32
		chatEvery time.Duration
		chatText  string
	)

	cmd := &cobra.Command{
		Use:          "ue",
		Short:        "Simulated user equipment",
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return app.BindFlags(v, cmd, map[string]string{
				"id":      "ue.id",
				"port":    "ue.port",
				"warm-up": "ue.warm_up",
			})
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.Setup(v, cmd)
			if err != nil {
				return err
			}
			defer rt.Logger.Sync()

			id := simproto.NodeID(rt.Config.Ue.ID)
			logger := rt.Logger.With(zap.Stringer("ue", id))
			opts := ue.Options{
				Options: rt.EntityOptions("ue", uint32(id)),
				Metrics: metrics.NewUe(rt.Registry, uint32(id)),
				OnUserData: func(from simproto.NodeID, data []byte) {
					logger.Info("user data", zap.Stringer("from", from), zap.ByteString("text", data))
				},
			}
			device := ue.New(id, rt.Config.UeConfig(), io.NewUDP("", rt.Logger), opts)
			defer device.Close()

			if err := device.SetupNetwork(rt.Config.Ue.Port); err != nil {
				return err
			}
			hubAddr, err := rt.HubAddr()
			if err != nil {
				return err
			}
			if err := device.RegisterAtHub(hubAddr); err != nil {
				return err
			}

			ctx, stop := app.SignalContext()
			defer stop()
			if err := rt.Serve(ctx, device); err != nil {
				return err
			}
			if chatTo != 0 && chatEvery > 0 {
				go chat(ctx, logger, device, simproto.NodeID(chatTo), chatEvery, chatText)
			}

			<-ctx.Done()
			logger.Info("shutting down")
			return nil
		},
	}
	app.AddCommonFlags(cmd)
	f := cmd.Flags()
	f.Uint32("id", 101, "UE node id")
	f.Int("port", 0, "local UDP port, 0 for ephemeral")
	f.Duration("warm-up", 2*time.Second, "delay before the cell search starts")
	f.Uint32Var(&chatTo, "chat-to", 0, "send user data to this UE once connected")
	f.DurationVar(&chatEvery, "chat-every", time.Second, "user data interval")
	f.StringVar(&chatText, "chat-text", "hello", "user data payload")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func chat(ctx context.Context, logger *zap.Logger, device *ue.UE, dest simproto.NodeID, every time.Duration, text string) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		err := device.SendUserData(ctx, dest, []byte(text))
		switch {
		case err == nil:
		case errors.Is(err, ue.ErrNotConnected):
			logger.Debug("not connected, user data skipped")
		default:
			logger.Warn("user data", zap.Error(err))
		}
	}
}
