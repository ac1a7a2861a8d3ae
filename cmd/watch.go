package cmd

import (
	"context"
	"errors"

	"github.com/foomo/cloudbackup/pkg/watch"
	"github.com/foomo/keel"
	"github.com/foomo/keel/healthz"
	"github.com/foomo/keel/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func NewWatchCommand() *cobra.Command {
	v := newViper()
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Push the local state whenever it changed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svr := keel.NewServer(
				keel.WithHTTPPrometheusService(servicePrometheusEnabledFlag(v)),
				keel.WithHTTPHealthzService(serviceHealthzEnabledFlag(v)),
				keel.WithPrometheusMeter(servicePrometheusEnabledFlag(v)),
				keel.WithGracefulPeriod(gracefulPeriodFlag(v)),
				keel.WithOTLPGRPCTracer(otelEnabledFlag(v)),
			)

			l := svr.Logger()

			syncer, err := newSyncer(cmd.Context(), v, l.Named("inst.syncer"))
			if err != nil {
				return err
			}
			history, err := newHistory(cmd.Context(), v, l.Named("inst.history"))
			if err != nil {
				return err
			}

			w := watch.New(l.Named("inst.watcher"), syncer, history,
				watch.WithInterval(intervalFlag(v)),
				watch.WithRestore(restoreFlag(v)),
			)

			isReadyHealthzerFn := healthz.NewHealthzerFn(func(ctx context.Context) error {
				if !w.Ready() {
					return errors.New("no successful round yet")
				}
				return nil
			})
			svr.AddStartupHealthzers(isReadyHealthzerFn)
			svr.AddReadinessHealthzers(isReadyHealthzerFn)

			svr.AddClosers(func(ctx context.Context) error {
				return history.Close()
			})

			svr.AddServices(
				service.NewGoRoutine(l.Named("go.watcher"), "watcher", func(ctx context.Context, l *zap.Logger) error {
					return w.Start(ctx)
				}),
			)

			svr.Run()
			return nil
		},
	}

	flags := cmd.Flags()
	addSyncFlags(flags, v)
	addStorageFlags(flags, v)
	addIntervalFlag(flags, v)
	addRestoreFlag(flags, v)
	addGracefulPeriodFlag(flags, v)
	addOtelEnabledFlag(flags, v)
	addServiceHealthzEnabledFlag(flags, v)
	addServicePrometheusEnabledFlag(flags, v)

	return cmd
}
