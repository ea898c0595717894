package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/lk2023060901/fixgarden-go/application"
	"github.com/lk2023060901/fixgarden-go/internal/network/connector"
	"github.com/lk2023060901/fixgarden-go/internal/network/session"
	"github.com/lk2023060901/fixgarden-go/pkg/util/conc"
)

func submain(ctx context.Context) int {
	cmd := newRootCommand()
	ctx, stop := withSignalCancel(ctx)
	defer stop()
	if _, err := cmd.ExecuteContextC(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fixengine: %v\n", err)
		return 1
	}
	return 0
}

// withSignalCancel 在收到 SIGINT 或 SIGTERM 时取消 ctx。
func withSignalCancel(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	conc.Go(func() (struct{}, error) {
		select {
		case <-sigs:
			cancel()
		case <-ctx.Done():
		}
		return struct{}{}, nil
	})
	return ctx, func() {
		signal.Stop(sigs)
		cancel()
	}
}

type rootFlags struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "fixengine",
		Short:         "Run FIX acceptor and initiator sessions described by a settings file",
		SilenceErrors: true,
		SilenceUsage:  true,
		Example: `  fixengine acceptor --config ./fixengine.yaml
  fixengine initiator --config ./initiator.yaml --strategy threaded
  fixengine check --config ./fixengine.yaml`,
	}
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "",
		"settings file (defaults to $FIX_CONFIG_FILE_PATH, then ./fixengine.yaml)")

	cmd.AddCommand(
		newServeCommand(flags, connector.RoleAcceptor),
		newServeCommand(flags, connector.RoleInitiator),
		newCheckCommand(flags),
	)
	return cmd
}

type serveFlags struct {
	metricsAddr string
	strategy    string
	ackOrders   bool
}

// newServeCommand 构造按配置运行指定角色会话的子命令，阻塞直到收到退出信号。
func newServeCommand(root *rootFlags, role connector.Role) *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   role.String(),
		Short: fmt.Sprintf("Run the %s sessions from the settings file until interrupted", role),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, root, flags, role)
		},
	}
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "",
		"serve Prometheus metrics on this address, overrides engine.metrics-addr")
	cmd.Flags().StringVar(&flags.strategy, "strategy", "",
		"event processing mode (single or threaded), overrides engine.strategy")
	cmd.Flags().BoolVar(&flags.ackOrders, "ack-orders", role == connector.RoleAcceptor,
		"acknowledge NewOrderSingle with an ExecutionReport")
	return cmd
}

func runServe(cmd *cobra.Command, root *rootFlags, flags *serveFlags, role connector.Role) error {
	app := application.New(root.configPath)
	if err := app.Load(); err != nil {
		return err
	}
	app.OverrideEngine(func(e *application.EngineConfig) {
		if cmd.Flags().Changed("metrics-addr") {
			e.MetricsAddr = flags.metricsAddr
		}
		if cmd.Flags().Changed("strategy") {
			e.Strategy = flags.strategy
		}
	})

	registry := session.NewRegistry()
	handler := newOrderApp(registry, app.Logger(role.String()), flags.ackOrders)
	c, err := app.NewConnector(role, handler, connector.WithRegistry(registry))
	if err != nil {
		return errors.Wrapf(err, "create %s", role)
	}
	return app.Run(cmd.Context(), c)
}
