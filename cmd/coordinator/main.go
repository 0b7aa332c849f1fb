package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/roder/stroma/internal/auditlog"
	"github.com/roder/stroma/internal/chat"
	"github.com/roder/stroma/internal/commands"
	"github.com/roder/stroma/internal/config"
	"github.com/roder/stroma/internal/errs"
	"github.com/roder/stroma/internal/eventloop"
	"github.com/roder/stroma/internal/gatekeeper"
	"github.com/roder/stroma/internal/governance"
	"github.com/roder/stroma/internal/identity"
	"github.com/roder/stroma/internal/substrate"
	"github.com/roder/stroma/internal/trust"
	"github.com/roder/stroma/internal/zkp"
)

var envFile string

func main() {
	root := &cobra.Command{
		Use:   "coordinator",
		Short: "a trust-network group coordinator",
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "path to a .env file overlaying process environment")
	root.AddCommand(runCmd())
	root.AddCommand(createGroupCmd())

	if err := root.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	switch {
	case errs.Fatal(err):
		return 1
	default:
		return 2
	}
}

func newLogger(level string) *logrus.Logger {
	log := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return log
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "run the coordinator's event loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			boot, err := config.Load(envFile)
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			log := newLogger(boot.LogLevel)

			rootIdentity, err := os.ReadFile(boot.RootIdentityPath)
			if err != nil {
				log.WithError(err).Error("failed to load root identity")
				os.Exit(1)
			}

			masker, err := identity.NewMasker(rootIdentity, []byte(boot.DiscoveryTag))
			if err != nil {
				log.WithError(err).Error("identity derivation failed")
				os.Exit(1)
			}
			defer masker.Close()

			groupCfg := config.DefaultGroupConfig()
			state := trust.New(groupCfg)

			sub, err := substrate.NewLibP2PKV(boot.ListenAddr, boot.DiscoveryTag, log)
			if err != nil {
				log.WithError(err).Error("substrate unavailable at startup")
				os.Exit(3)
			}
			defer sub.Close()

			collab := chat.NewMock()
			audit := auditlog.New(nil)
			limiter := gatekeeper.NewRateLimiter(time.Minute, 24*time.Hour)
			prover := zkp.NewStub(rootIdentity)
			gk := gatekeeper.New(log, groupCfg.VettingSessionTTL, audit, collab, prover, limiter)

			execAdapter := &configExecutor{cfg: &groupCfg}
			gov := governance.New(log, collab, audit, execAdapter, groupCfg)

			disp := commands.New(log, state, gk, gov, audit, collab, masker)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			handlers := eventloop.Handlers{
				OnChatEvent: func(ctx context.Context, e chat.Event) {
					if e.Kind != chat.EventIncomingCommand {
						return
					}
					cmd, err := commands.Parse(e.Text)
					if err != nil {
						log.WithError(err).Debug("unparseable chat command")
						return
					}
					caller, err := masker.Mask(e.RawId)
					if err != nil {
						log.WithError(err).Warn("failed to mask caller raw id")
						return
					}
					reply, err := disp.Dispatch(ctx, cmd, caller, e.RawId)
					if err != nil {
						log.WithError(err).Debug("command dispatch returned an error")
					}
					if reply != "" {
						_, _ = collab.SendGroup(ctx, reply)
					}
				},
				OnSubstrateDelta: func(ctx context.Context, d substrate.Delta) {
					log.WithField("contract_id", d.ContractId).Debug("substrate delta observed")
				},
			}

			loop := eventloop.New(log, collab, sub, boot.DiscoveryTag, eventloop.DefaultConfig(), handlers)
			log.Info("coordinator event loop starting")
			if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			log.Info("coordinator shutting down")
			return nil
		},
	}
}

func createGroupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-group",
		Short: "bootstrap a fresh group from a set of founding members",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "print a usage reminder for the bootstrap-only flow",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("bootstrap is performed via the create-group / add-seed chat verbs once the coordinator is running")
		},
	})
	return cmd
}

// configExecutor adapts internal/governance.Executor onto the
// in-memory group config: ConfigChange keys mutate groupCfg directly;
// GroupConfig/Federation are chat/federation side effects left as
// silent no-ops (they return nil and log nothing) since spec.md §9
// treats federation as out-of-scope.
type configExecutor struct {
	cfg *config.GroupConfig
}

func (e *configExecutor) ApplyConfigChange(key, value string) error {
	return config.ApplyWhitelistedKey(e.cfg, key, value)
}

func (e *configExecutor) ApplyGroupConfig(key, value string) error {
	return nil
}

func (e *configExecutor) ApplyFederation(otherGroupID string) error {
	return nil
}
