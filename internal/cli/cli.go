package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/Additional-Code/mesbridge/internal/app"
	"github.com/Additional-Code/mesbridge/internal/migration"
	"github.com/Additional-Code/mesbridge/internal/seeder"
	"github.com/Additional-Code/mesbridge/internal/service/dispatch"
	"github.com/Additional-Code/mesbridge/internal/service/ordersync"
	"github.com/Additional-Code/mesbridge/internal/service/reconcile"
)

const stopTimeout = 10 * time.Second

// NewRootCommand builds the root mesbridge CLI command.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "mesbridge",
		Short:         "ERP to MES order bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newStartCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newSeedCmd())
	root.AddCommand(newWorkerCmd())
	root.AddCommand(newSyncCmd())
	root.AddCommand(newReconcileCmd())

	return root
}

// Execute runs the mesbridge CLI until it finishes or the process is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return err
	}
	return nil
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "start",
		Aliases: []string{"run"},
		Short:   "Run the HTTP and gRPC service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUntilDone(cmd.Context(), app.Module)
		},
	}
}

func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Manage background workers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Consume sync jobs and run the periodic reconciler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUntilDone(cmd.Context(), app.Worker)
		},
	})
	return cmd
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			var mig *migration.Migrator
			opts := fx.Options(app.Core, migration.Module, fx.Populate(&mig))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				if err := mig.Up(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Rollback migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _ := cmd.Flags().GetInt("steps")
			all, _ := cmd.Flags().GetBool("all")
			var mig *migration.Migrator
			opts := fx.Options(app.Core, migration.Module, fx.Populate(&mig))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				if err := mig.Down(ctx, steps, all); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations rolled back")
				return nil
			})
		},
	}
	downCmd.Flags().Int("steps", 1, "Number of migration steps to rollback")
	downCmd.Flags().Bool("all", false, "Rollback all applied migrations")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print the schema version and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			var mig *migration.Migrator
			opts := fx.Options(app.Core, migration.Module, fx.Populate(&mig))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				st, err := mig.Status(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema version %d of %d\n", st.Current, st.Latest)
				if !st.UpToDate() {
					fmt.Fprintf(cmd.OutOrStdout(), "pending: %v\n", st.Pending)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(upCmd, downCmd, statusCmd)
	return cmd
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seed a sample sales order",
		RunE: func(cmd *cobra.Command, args []string) error {
			var seed *seeder.Seeder
			opts := fx.Options(app.Core, seeder.Module, fx.Populate(&seed))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				if err := seed.Orders(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "seed data applied")
				return nil
			})
		},
	}
}

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Send sales orders to the remote system",
	}

	enqueueCmd := &cobra.Command{
		Use:   "enqueue [order]",
		Short: "Queue an order for the background worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, _ := cmd.Flags().GetString("actor")
			var gw *dispatch.Gateway
			opts := fx.Options(app.Core, fx.Populate(&gw))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				ack, err := gw.Enqueue(ctx, args[0], actor)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", ack.Message, ack.JobName)
				return nil
			})
		},
	}
	enqueueCmd.Flags().String("actor", "", "ERP user recorded as the agent")

	runCmd := &cobra.Command{
		Use:   "run [order]",
		Short: "Sync an order in the foreground",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, _ := cmd.Flags().GetString("actor")
			timeout, _ := cmd.Flags().GetDuration("timeout")
			var svc *ordersync.Service
			opts := fx.Options(app.Core, fx.Populate(&svc))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				if timeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, timeout)
					defer cancel()
				}
				switch r := svc.Sync(ctx, args[0], actor).(type) {
				case ordersync.Synced:
					fmt.Fprintf(cmd.OutOrStdout(), "order %s synced as remote order %d (%s)\n", r.Order, r.RemoteOrderID, r.RemoteOrder)
					if r.LocalErr != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "warning: local bookkeeping incomplete: %v\n", r.LocalErr)
					}
					return nil
				case ordersync.Failed:
					return fmt.Errorf("order %s failed at %s [%s]: %w", r.Order, r.Stage, r.Kind(), r.Err)
				default:
					return fmt.Errorf("unexpected sync result %T", r)
				}
			})
		},
	}
	runCmd.Flags().String("actor", "", "ERP user recorded as the agent")
	runCmd.Flags().Duration("timeout", 300*time.Second, "Maximum duration of the sync attempt")

	cmd.AddCommand(enqueueCmd, runCmd)
	return cmd
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Poll the remote system once for in-flight orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			var rec *reconcile.Reconciler
			opts := fx.Options(app.Core, fx.Populate(&rec))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				report, err := rec.Run(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "checked %d: %d synced, %d failed, %d unchanged, %d errors\n",
					report.Checked, report.Synced, report.Failed, report.Unchanged, report.Errors)
				return nil
			})
		},
	}
}

func runUntilDone(ctx context.Context, opts fx.Option) error {
	application := fx.New(opts)
	if err := application.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return application.Stop(stopCtx)
}

func runWithApp(ctx context.Context, opts fx.Option, fn func(context.Context) error) error {
	application := fx.New(opts, fx.NopLogger)
	if err := application.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		_ = application.Stop(stopCtx)
	}()
	return fn(ctx)
}
