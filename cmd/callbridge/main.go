package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vango-go/callbridge/internal/dotenv"
	"github.com/vango-go/callbridge/internal/log"
	"github.com/vango-go/callbridge/internal/telemetry"
	"github.com/vango-go/callbridge/pkg/core"
	"github.com/vango-go/callbridge/pkg/gateway/config"
	"github.com/vango-go/callbridge/pkg/gateway/live/transfer"
	"github.com/vango-go/callbridge/pkg/gateway/metrics"
	"github.com/vango-go/callbridge/pkg/gateway/prompt"
	gatewayserver "github.com/vango-go/callbridge/pkg/gateway/server"
	"github.com/vango-go/callbridge/pkg/gateway/upstream"
)

var version = "dev"

type serveDeps struct {
	loadConfig   func() (config.Config, error)
	listen       func(network, address string) (net.Listener, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
	// ready, when set, receives the bound address once the listener is up.
	ready func(addr string)
}

func defaultServeDeps() serveDeps {
	return serveDeps{
		loadConfig: config.LoadFromEnv,
		listen:     net.Listen,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// buildDependencies resolves the provider and the two channel engines.
func buildDependencies(ctx context.Context, cfg config.Config, m *metrics.Metrics) (gatewayserver.Dependencies, error) {
	prompts, err := prompt.Load(cfg.KnowledgeBaseFile, cfg.PromptProfilesFile)
	if err != nil {
		return gatewayserver.Dependencies{}, fmt.Errorf("load prompts: %w", err)
	}

	factory := upstream.Factory{HTTPClient: upstream.NewHTTPClient(cfg)}
	provider, err := factory.New(ctx, cfg)
	if err != nil {
		return gatewayserver.Dependencies{}, fmt.Errorf("create provider: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = upstream.DefaultModel(cfg.Provider)
	}

	newEngine := func(channel string, maxTokens int) (*core.Engine, error) {
		system, err := prompts.Build(channel)
		if err != nil {
			return nil, err
		}
		return core.NewEngine(provider, core.Profile{
			Channel:         channel,
			Model:           model,
			SystemPrompt:    system,
			MaxOutputTokens: maxTokens,
		})
	}
	voice, err := newEngine(prompt.ChannelVoice, cfg.VoiceMaxTokens)
	if err != nil {
		return gatewayserver.Dependencies{}, fmt.Errorf("voice engine: %w", err)
	}
	chat, err := newEngine(prompt.ChannelChat, cfg.ChatMaxTokens)
	if err != nil {
		return gatewayserver.Dependencies{}, fmt.Errorf("chat engine: %w", err)
	}

	return gatewayserver.Dependencies{
		VoiceEngine: voice,
		ChatEngine:  chat,
		Provider:    provider.Name(),
		Policy:      transfer.NewPhrasePolicy(cfg.TransferNumber, cfg.TransferPhrases, cfg.EndCallPhrases),
		Metrics:     m,
	}, nil
}

func runServe(ctx context.Context, logOut io.Writer, deps serveDeps) error {
	if deps.loadConfig == nil || deps.listen == nil {
		return errors.New("missing serve dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := serveLogger(logOut, cfg.LogLevel)

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.OTelExporter == "otlp",
		ServiceName:    "callbridge",
		ServiceVersion: version,
		Endpoint:       cfg.OTelEndpoint,
		Insecure:       cfg.OTelInsecure,
		SamplingRate:   cfg.OTelSamplingRate,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown")
		}
	}()

	gwDeps, err := buildDependencies(ctx, cfg, metrics.New("callbridge"))
	if err != nil {
		return err
	}
	if cfg.APIKey() == "" {
		logger.Warn().Str("provider", cfg.Provider).Msg("no API key configured; chat will fail and calls will transfer")
	}
	if cfg.TransferNumber == "" {
		logger.Warn().Msg("TRANSFER_NUMBER not set; failed turns cannot transfer")
	}

	gw := gatewayserver.New(cfg, logger, gwDeps)
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	ln, err := deps.listen("tcp", httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	logger.Info().
		Str("addr", ln.Addr().String()).
		Str("provider", gwDeps.Provider).
		Str("greeting_mode", string(cfg.GreetingMode)).
		Bool("admin", cfg.AdminEnabled()).
		Msg("starting call bridge")
	if deps.ready != nil {
		deps.ready(ln.Addr().String())
	}

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		}
		return drain(logger, cfg, gw, httpSrv)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("call bridge stopped")
	return nil
}

// drain stops new work, lets connected calls finish within the grace
// period, then cuts off whatever is left.
func drain(logger zerolog.Logger, cfg config.Config, gw *gatewayserver.Server, httpSrv *http.Server) error {
	gw.SetDraining()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown incomplete")
	}

	calls := gw.Calls()
	if !calls.Wait(shutdownCtx) {
		n := calls.CancelAll()
		logger.Warn().Int("calls", n).Msg("grace period elapsed; ending remaining calls")
		waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.WSWriteTimeout)
		defer waitCancel()
		calls.Wait(waitCtx)
	}
	return nil
}

func newRootCmd(ctx context.Context, stdout io.Writer, deps serveDeps) *cobra.Command {
	root := &cobra.Command{
		Use:           "callbridge",
		Short:         "Voice-call and website-chat bridge to a hosted language model",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return dotenv.Load(".env.local", ".env")
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(ctx, stdout, deps)
		},
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(ctx, stdout, deps)
		},
	})
	root.AddCommand(newPromptCmd(deps))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})
	return root
}

func newPromptCmd(deps serveDeps) *cobra.Command {
	var channel string
	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Print the system prompt for a channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			prompts, err := prompt.Load(cfg.KnowledgeBaseFile, cfg.PromptProfilesFile)
			if err != nil {
				return err
			}
			system, err := prompts.Build(channel)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), system)
			return nil
		},
	}
	cmd.Flags().StringVar(&channel, "channel", prompt.ChannelVoice, "prompt channel (voice or chat)")
	return cmd
}

func serveLogger(w io.Writer, level string) zerolog.Logger {
	return log.New(log.Config{Output: w, Level: level, Service: "callbridge"})
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps serveDeps) int {
	root := newRootCmd(ctx, stdout, deps)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "callbridge: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stdout, os.Stderr, defaultServeDeps()))
}
