package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/signalbox/internal/metrics"
	"github.com/zulandar/signalbox/internal/statusapi"
	"github.com/zulandar/signalbox/internal/telegraph"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newListenCmd() *cobra.Command {
	var statusAddr string

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Run the chat listener",
		Long: "Polls the configured chat platform, routes operator messages to sessions,\n" +
			"records approval clicks and runs periodic maintenance. Runs until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListen(cmd, statusAddr)
		},
	}

	cmd.Flags().StringVar(&statusAddr, "status", "", "status API listen address (overrides status.listen)")
	return cmd
}

func runListen(cmd *cobra.Command, statusAddr string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	transport, err := transportFactory(e)
	if err != nil {
		return err
	}

	m := metrics.New()
	listener, err := telegraph.NewListener(telegraph.ListenerOpts{
		DB:        e.db,
		Transport: transport,
		Config:    e.cfg,
		ChatID:    chatID(e),
		Logger:    e.log,
		Metrics:   m,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if statusAddr == "" {
		statusAddr = e.cfg.Status.Listen
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return listener.Run(ctx)
	})
	if statusAddr != "" {
		ready := make(chan string, 1)
		g.Go(func() error {
			return statusapi.Start(ctx, statusapi.StartOpts{
				DB:      e.db,
				Listen:  statusAddr,
				Metrics: m,
				Logger:  e.log,
				Ready:   ready,
			})
		})
		go func() {
			select {
			case addr := <-ready:
				fmt.Fprintf(cmd.ErrOrStderr(), "status API on http://%s\n", addr)
			case <-ctx.Done():
			}
		}()
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "listening on %s (Ctrl-C to stop)\n", e.cfg.Transport.Platform)
	e.log.Info("listener starting", zap.String("platform", e.cfg.Transport.Platform))
	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
