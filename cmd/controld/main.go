package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/strayline/roverctl/internal/config"
	"github.com/strayline/roverctl/internal/controller"
	"github.com/strayline/roverctl/internal/link"
	"github.com/strayline/roverctl/internal/observability"
	"github.com/strayline/roverctl/internal/policy"
)

var (
	configPath  = flag.String("config", "", "Path to controller config TOML (defaults apply when empty)")
	goal        = flag.String("goal", "", "Mission goal override")
	httpAddr    = flag.String("http", "", "Operator API listen address override")
	oracleURL   = flag.String("oracle_url", "", "Inference endpoint URL (empty runs with autonomy paused)")
	oracleModel = flag.String("oracle_model", "", "Inference model name")
)

func main() {
	flag.Parse()
	observability.InitLogger("controld")

	if err := run(); err != nil {
		log.Error().Err(err).Msg("controld failed")
		os.Exit(1)
	}
}

func run() error {
	cfg := config.DefaultControllerConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadControllerConfig(*configPath)
		if err != nil {
			return err
		}
	}
	if *goal != "" {
		cfg.Goal = *goal
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if cfg.Goal == "" {
		cfg.Goal = "explore your surroundings and avoid obstacles"
	}

	srv := link.NewServer(link.ServerConfig{
		Host:           cfg.ListenHost,
		Port:           cfg.ListenPort,
		MaxConnections: cfg.MaxConnections,
		AcceptTimeout:  time.Second,
		ReadTimeout:    10 * time.Second,
		PollInterval:   time.Second,
		WriteTimeout:   5 * time.Second,
	})
	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Stop()

	state := policy.NewControlState(cfg.Goal, cfg.CommandHistorySize)
	decider := policy.NewDecider(buildOracle(), state,
		time.Duration(cfg.InferenceTimeoutMS)*time.Millisecond)
	ctrl := controller.New(cfg, srv, decider)
	if *oracleURL == "" {
		log.Warn().Msg("no oracle endpoint configured, autonomy paused; drive via POST /command")
		ctrl.Pause(true)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loopErr := make(chan error, 1)
	go func() { loopErr <- ctrl.Run(ctx) }()

	api := controller.NewAPI(ctrl, cfg.CorsOrigins)
	apiErr := make(chan error, 1)
	go func() { apiErr <- api.Serve(cfg.HTTPAddr) }()
	log.Info().
		Str("frames", fmt.Sprintf("%s:%d", cfg.ListenHost, cfg.ListenPort)).
		Str("http", cfg.HTTPAddr).
		Msg("controld ready")

	select {
	case <-ctx.Done():
		return <-loopErr
	case err := <-loopErr:
		return err
	case err := <-apiErr:
		return err
	}
}

func buildOracle() policy.Oracle {
	if *oracleURL == "" {
		// Autonomy stays paused; this oracle only answers if resumed
		// without an endpoint, and then it always stops the rover.
		return policy.OracleFunc(func(context.Context, []byte, string) (string, error) {
			return "COMMAND: 0,0,2,2\nREASONING: no oracle configured", nil
		})
	}
	apiKey := os.Getenv("ROVERCTL_ORACLE_API_KEY")
	return policy.NewHTTPOracle(*oracleURL, *oracleModel, apiKey)
}
