package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/momo/internal/api"
	"github.com/momo/internal/bottle"
	"github.com/momo/internal/config"
	"github.com/momo/internal/database"
	"github.com/momo/internal/identity"
	"github.com/momo/internal/notify"
	"github.com/momo/internal/question"
)

// APICommand returns the CLI command for starting the API server
func APICommand() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Start the momo API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server",
			},
		},
		Action: runAPI,
	}
}

func runAPI(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.IsSet("port") {
		cfg.Server.Port = c.Int("port")
	}

	ctx := context.Background()

	pool, err := database.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := database.EnsureSchema(ctx, pool); err != nil {
		return err
	}

	users := identity.NewUsers(pool)
	mailer := notify.NewMailer(notify.MailerConfig{
		Endpoint:    cfg.Mail.Endpoint,
		APIKey:      cfg.Mail.APIKey,
		From:        cfg.Mail.From,
		FrontendURL: cfg.Mail.FrontendURL,
	})

	queue, err := notify.NewJobQueue(pool, users, mailer, notify.Options{
		MaxWorkers:    cfg.Queue.MaxWorkers,
		SweepInterval: cfg.Bottle.SweepInterval,
		LeaseDuration: cfg.Bottle.LeaseDuration,
	})
	if err != nil {
		return fmt.Errorf("failed to build job queue: %w", err)
	}

	engine := bottle.NewEngine(bottle.NewPgStore(pool), queue)
	// The queue's periodic sweep calls back into the engine, so it is bound
	// after both exist.
	queue.SetReclaimer(engine)

	board := question.NewService(pool, users, queue)
	resolver := identity.NewJWTResolver(pool, cfg.Auth.JWTSecret)

	if err := queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start job queue: %w", err)
	}
	defer func() {
		if err := queue.Stop(ctx); err != nil {
			log.Warn().Err(err).Msg("job queue did not stop cleanly")
		}
	}()

	log.Info().Int("port", cfg.Server.Port).Msg("starting momo API server")
	server := api.NewServer(cfg.Server.Port, api.Deps{
		Engine:   engine,
		Board:    board,
		Resolver: resolver,
		IPSalt:   cfg.Auth.IPSalt,
	})
	return server.Start()
}
