package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	pkgerrors "github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/iamwavecut/ngwarden/internal/bot"
	"github.com/iamwavecut/ngwarden/internal/challenge"
	"github.com/iamwavecut/ngwarden/internal/compliance"
	"github.com/iamwavecut/ngwarden/internal/config"
	"github.com/iamwavecut/ngwarden/internal/db/sqlite"
	"github.com/iamwavecut/ngwarden/internal/handlers/chat"
	"github.com/iamwavecut/ngwarden/internal/handlers/moderation"
	"github.com/iamwavecut/ngwarden/internal/handlers/private"
	"github.com/iamwavecut/ngwarden/internal/infra"
	"github.com/iamwavecut/ngwarden/internal/infra/reg"
	"github.com/iamwavecut/ngwarden/internal/infrastructure/telegram"
	"github.com/iamwavecut/ngwarden/internal/lifecycle"
	"github.com/iamwavecut/ngwarden/internal/notify"
	"github.com/iamwavecut/ngwarden/internal/observability"
	"github.com/iamwavecut/ngwarden/internal/scheduler"
)

const (
	maxPollPanics   = 3
	shutdownTimeout = 15 * time.Second
)

var errExecutableChanged = errors.New("executable changed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.WithField("error", err.Error()).Fatal("ngwarden stopped")
	}
	log.Info("ngwarden stopped")
}

func run(ctx context.Context) error {
	cfg, err := config.FromEnv(ctx)
	if err != nil {
		return pkgerrors.WithMessage(err, "load config")
	}
	log.SetFormatter(&config.NbFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.Level(cfg.LogLevel))
	log.WithFields(cfg.LogFields()).Info("configuration loaded")

	shutdownTracing := observability.InitTracing()
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.WithField("error", err.Error()).Warn("tracing shutdown failed")
		}
	}()

	workDir, err := infra.GetWorkDir(cfg.DotPath)
	if err != nil {
		return pkgerrors.WithMessage(err, "resolve work dir")
	}
	store, err := sqlite.NewSQLiteClient(ctx, workDir, cfg.DatabasePath)
	if err != nil {
		return pkgerrors.WithMessage(err, "open store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithField("error", err.Error()).Warn("store close failed")
		}
	}()

	botAPI, err := api.NewBotAPI(cfg.TelegramAPIToken)
	if err != nil {
		return pkgerrors.WithMessage(err, "create bot api")
	}
	if log.Level(cfg.LogLevel) == log.TraceLevel {
		botAPI.Debug = true
	}
	platform := telegram.NewOperations(botAPI)
	log.WithField("username", botAPI.Self.UserName).Info("authorized")

	sched := scheduler.New()
	notifier := notify.NewNotifier(notify.Settings{
		GroupID:          cfg.Group.ID,
		WarningTopicID:   cfg.Group.WarningTopicID,
		RulesLink:        cfg.Group.RulesLink,
		Language:         cfg.DefaultLanguage,
		WarningThreshold: cfg.Compliance.WarningThreshold,
		TimeThreshold:    cfg.Compliance.TimeThreshold(),
		ChallengeTimeout: cfg.Challenge.Timeout(),
	}, platform)

	challenges := challenge.NewEngine(challenge.Settings{
		Enabled:        cfg.Challenge.Enabled,
		GroupID:        cfg.Group.ID,
		WarningTopicID: cfg.Group.WarningTopicID,
		Timeout:        cfg.Challenge.Timeout(),
	}, store, platform, sched, notifier)

	engine := compliance.NewEngine(compliance.Settings{
		GroupID:             cfg.Group.ID,
		RestrictFailedUsers: cfg.Compliance.RestrictFailedUsers,
		WarningThreshold:    cfg.Compliance.WarningThreshold,
		TimeThreshold:       cfg.Compliance.TimeThreshold(),
	}, store, platform, notifier, challenges)

	admins := reg.NewAdminRegistry(platform, cfg.Group.ID, cfg.Group.AdminRefreshInterval)

	// Outstanding challenges must be expired or rescheduled before any
	// update is processed.
	report, err := challenges.Recover(ctx)
	if err != nil {
		return pkgerrors.WithMessage(err, "recover challenges")
	}
	log.WithFields(log.Fields{
		"expired":     report.Expired,
		"rescheduled": report.Rescheduled,
		"failed":      report.Failed,
	}).Info("challenge recovery finished")

	runtime := lifecycle.NewRuntime(sched, admins, observability.NewServer(cfg.MetricsAddr))
	if cfg.Compliance.RestrictFailedUsers {
		runtime.Register(moderation.NewSweeper(engine, cfg.Compliance.TimeThreshold(), cfg.Compliance.SweepInterval))
	}
	if err := runtime.Start(ctx); err != nil {
		return pkgerrors.WithMessage(err, "start runtime")
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := runtime.Stop(stopCtx); err != nil {
			log.WithField("error", err.Error()).Warn("runtime stop failed")
		}
	}()

	processor := bot.NewUpdateProcessor(
		chat.NewTopicGuard(cfg.Group.ID, cfg.Group.WarningTopicID, botAPI.Self.ID, admins, platform),
		private.NewCommands(cfg.Group.ID, engine, admins, notifier),
		private.NewDirectMessages(cfg.Group.ID, engine, notifier),
		chat.NewGatekeeper(cfg.Group.ID, challenges, notifier, platform),
		chat.NewWarden(cfg.Group.ID, engine),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return infra.Recoverable("updates", maxPollPanics, func() error {
			return pollUpdates(gctx, botAPI, processor)
		})
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case _, changed := <-infra.WatchExecutable(gctx, cfg.ExecutableCheckInterval):
			if changed {
				return errExecutableChanged
			}
			return nil
		}
	})

	err = g.Wait()
	if errors.Is(err, errExecutableChanged) {
		log.Info("executable changed, exiting for restart")
		return nil
	}
	return err
}

func pollUpdates(ctx context.Context, botAPI *api.BotAPI, processor *bot.UpdateProcessor) error {
	updateConfig := api.NewUpdate(0)
	updateConfig.Timeout = 60
	updateConfig.AllowedUpdates = []string{"message", "callback_query"}

	updates, errs := bot.GetUpdatesChans(ctx, botAPI, updateConfig)
	for {
		select {
		case update, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if err := processor.Process(ctx, &update); err != nil {
				log.WithField("error", err.Error()).Error("cant process update")
			}
		case err, ok := <-errs:
			if !ok || ctx.Err() != nil {
				return nil
			}
			return pkgerrors.WithMessage(err, "get updates")
		}
	}
}
