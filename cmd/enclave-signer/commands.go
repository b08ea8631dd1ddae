package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/twoshard/enclave-signer/config"
	"github.com/twoshard/enclave-signer/dispatcher"
	"github.com/twoshard/enclave-signer/keystore"
	"github.com/twoshard/enclave-signer/logger"
	"github.com/twoshard/enclave-signer/mpc"
	"github.com/twoshard/enclave-signer/session"
	"github.com/twoshard/enclave-signer/transport"
)

// Overridden at build time via -ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

func InitRootCmd(rootCmd *cobra.Command) {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(versionCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file under the home directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := cmd.Flags().GetString("home")
			if err != nil {
				return err
			}
			cfg, err := config.Load(home)
			if err != nil {
				return err
			}
			if err := config.Save(cfg, home); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote config under %s\n", home)
			return nil
		},
	}
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the enclave signing daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := cmd.Flags().GetString("home")
			if err != nil {
				return err
			}

			v := viper.New()
			v.SetEnvPrefix(envPrefix)
			v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
			v.AutomaticEnv()

			cfg, err := config.Load(home)
			if err != nil {
				return err
			}

			log := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.LogSampler)

			keys, err := openKeystore(cfg, v, log)
			if err != nil {
				return err
			}
			defer keys.Close()

			return runDaemon(cmd, cfg, keys, log)
		},
	}
}

func openKeystore(cfg *config.Config, v *viper.Viper, log zerolog.Logger) (keystore.Store, error) {
	switch cfg.KeystoreBackend {
	case config.BackendMemory:
		log.Warn().Msg("using in-memory keystore, key shares will not survive restart")
		return keystore.NewMemory(), nil
	case config.BackendFile:
		passphrase := v.GetString("keystore_passphrase")
		if passphrase == "" {
			return nil, errors.Errorf("%s_KEYSTORE_PASSPHRASE must be set for the file keystore", envPrefix)
		}
		return keystore.NewFile(cfg.KeystorePath, keystore.PassphraseUnsealer(passphrase), log)
	default:
		return nil, errors.Errorf("unknown keystore backend %q", cfg.KeystoreBackend)
	}
}

func runDaemon(cmd *cobra.Command, cfg *config.Config, keys keystore.Store, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessions := session.NewManager(cfg.SessionTimeout(), log)
	sweeper := session.NewSweeper(session.SweeperConfig{
		Manager:  sessions,
		Interval: cfg.SweepInterval(),
		Logger:   log,
	})

	disp := dispatcher.New(sessions, keys, mpc.NewEngine(), log)
	server := transport.NewServer(disp, transport.Config{
		MaxBufferBytes: cfg.MaxRequestBytes,
	}, log)

	ln, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", cfg.ListenAddress)
	}

	log.Info().
		Str("version", Version).
		Str("listen_address", ln.Addr().String()).
		Str("keystore", keys.Mode()).
		Msg("enclave signer starting")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sweeper.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return server.Serve(ctx, ln)
	})
	if cfg.DebugAddr != "" {
		g.Go(func() error {
			return serveDebug(ctx, cfg.DebugAddr, log)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info().Msg("enclave signer stopped")
	return err
}

// serveDebug exposes Prometheus metrics on a separate listener so the
// request socket stays single-purpose.
func serveDebug(ctx context.Context, addr string, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("debug_addr", addr).Msg("debug server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "debug server")
	}
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print enclave-signer version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\n", Version)
			fmt.Fprintf(cmd.OutOrStdout(), "Commit:  %s\n", Commit)
		},
	}
}
