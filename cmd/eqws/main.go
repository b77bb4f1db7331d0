package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sonirico/eqws"
)

type rootOptions struct {
	configPath  string
	address     string
	scheme      string
	timeout     time.Duration
	codec       string
	logLevel    string
	metricsAddr string
}

func main() {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "eqws",
		Short: "Talk to an eqws server: events, messages and rpc over websocket",
		Long: `eqws is a small client for the eqws pub/sub + rpc protocol.

It keeps a websocket connection open, reconnecting with a linear
backoff, and lets you emit events, issue rpc calls and watch
everything the server pushes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file (.toml, .yaml)")
	flags.StringVarP(&opts.address, "address", "a", "ws://localhost:3000", "server address")
	flags.StringVar(&opts.scheme, "scheme", eqws.DefaultScheme, "scheme used to complete relative addresses")
	flags.DurationVar(&opts.timeout, "timeout", eqws.DefaultRPCTimeout, "rpc timeout")
	flags.StringVar(&opts.codec, "codec", "json", "packet codec: json or proto")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address, e.g. :9090")

	rootCmd.AddCommand(
		pingCmd(opts),
		callCmd(opts),
		emitCmd(opts),
		listenCmd(opts),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func (o *rootOptions) config(cmd *cobra.Command) (eqws.Config, error) {
	cfg := eqws.DefaultConfig()
	if o.configPath != "" {
		loaded, err := eqws.LoadConfig(o.configPath)
		if err != nil {
			return eqws.Config{}, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if o.configPath == "" || flags.Changed("address") {
		cfg.Address = o.address
	}
	if flags.Changed("scheme") {
		cfg.Scheme = o.scheme
	}
	if flags.Changed("timeout") {
		cfg.RPCTimeout = o.timeout
	}
	return cfg, nil
}

func (o *rootOptions) zerolog() (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(o.logLevel)
	if err != nil {
		return zerolog.Logger{}, err
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().
		Timestamp().
		Logger(), nil
}

func (o *rootOptions) packetCodec() (eqws.Codec, error) {
	switch o.codec {
	case "json":
		return eqws.JSONCodec{}, nil
	case "proto":
		return eqws.ProtoCodec{}, nil
	default:
		return nil, errors.Errorf("unknown codec %q", o.codec)
	}
}

// session is a socket built from the command line options plus the
// collectors it reports to, when --metrics-addr is set.
type session struct {
	socket      *eqws.Socket
	logger      zerolog.Logger
	registry    *prometheus.Registry
	metricsAddr string
}

// session builds a socket from the command line options. Callers subscribe
// to what they need and then run it.
func (o *rootOptions) session(cmd *cobra.Command) (*session, error) {
	cfg, err := o.config(cmd)
	if err != nil {
		return nil, err
	}

	zl, err := o.zerolog()
	if err != nil {
		return nil, err
	}

	codec, err := o.packetCodec()
	if err != nil {
		return nil, err
	}

	sess := &session{logger: zl, metricsAddr: o.metricsAddr}
	socketOpts := []eqws.Option{
		eqws.WithLogger(eqws.NewZerologLogger(zl)),
		eqws.WithCodec(codec),
	}

	if o.metricsAddr != "" {
		sess.registry = prometheus.NewRegistry()
		metrics, err := eqws.NewMetrics(sess.registry, "eqws")
		if err != nil {
			return nil, err
		}
		socketOpts = append(socketOpts, eqws.WithMetrics(metrics))
	}

	sess.socket, err = eqws.New(cfg, socketOpts...)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// run opens the socket and calls fn, serving metrics alongside. The socket is
// closed once fn returns; a failing metrics server cancels fn's context.
func (s *session) run(ctx context.Context, fn func(ctx context.Context) error) error {
	g, ctx := errgroup.WithContext(ctx)
	ctx, cancel := context.WithCancel(ctx)

	if s.registry != nil {
		g.Go(func() error {
			return serveMetrics(ctx, s.logger, s.metricsAddr, s.registry)
		})
	}

	g.Go(func() error {
		defer cancel()
		defer s.socket.Close()

		if err := s.socket.Open(ctx); err != nil {
			return err
		}
		return fn(ctx)
	})

	return g.Wait()
}

func serveMetrics(ctx context.Context, zl zerolog.Logger, addr string, reg *prometheus.Registry) error {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zl.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "metrics server")
	}
	return nil
}
