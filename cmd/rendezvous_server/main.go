package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/edup2p/peerlink/metrics"
	"github.com/edup2p/peerlink/runner"
	"github.com/edup2p/peerlink/server/rendezvous"
	"github.com/edup2p/peerlink/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultHTTPAddr = ":8080"

var (
	configPath = flag.String("c", "", "config file path, a default one is written if it does not exist")
	mode       = flag.String("mode", "", "rendezvous mode, \"introduce\" or \"lookup\"")
	port       = flag.Uint("port", 0, "UDP port to serve on")
	maxPeers   = flag.Int("max-peers", 0, "maximum number of connected clients")
	ipv6       = flag.Bool("6", false, "serve on a dual-stack socket")
	allow      = flag.String("allow", "", "comma-separated prefixes, ranges or addresses allowed to connect")
	httpAddr   = flag.String("http", "", "status and metrics HTTP listen address, empty to use the config value")
	verbose    = flag.Bool("v", false, "log at debug level")
)

const RendezvousDefaultHTML = `
<html>
	<body>
		<h1>peerlink rendezvous</h1>
		<p>
		  This is a peerlink rendezvous server.
		</p>
    </body>
</html>
`

func main() {
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	{
		programLevel := new(slog.LevelVar) // Info by default
		h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: programLevel})
		slog.SetDefault(slog.New(h))
		if *verbose {
			programLevel.Set(slog.LevelDebug)
		}
	}

	fileCfg := loadConfig()

	cfg := rendezvous.DefaultConfig()
	if err := fileCfg.apply(cfg); err != nil {
		log.Fatalf("rendezvous: config: %v", err)
	}

	if err := applyFlags(cfg); err != nil {
		log.Fatalf("rendezvous: flags: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	tcfg := transport.DefaultConfig()
	tcfg.Observer = metrics.New(reg, "rendezvous")

	rcfg := runner.DefaultConfig()
	rcfg.Transport = tcfg
	cfg.Runner = rcfg

	server, err := rendezvous.NewServer(cfg)
	if err != nil {
		log.Fatalf("rendezvous: %v", err)
	}

	if err := server.Start(ctx); err != nil {
		log.Fatalf("rendezvous: could not start: %v", err)
	}

	addr := defaultHTTPAddr
	if fileCfg.HTTPAddr.Valid {
		addr = fileCfg.HTTPAddr.Val
	}
	if *httpAddr != "" {
		addr = *httpAddr
	}

	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	mux.Handle("/peers", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if err := json.NewEncoder(w).Encode(server.Peers()); err != nil {
			slog.Debug("could not write peers", "err", err)
		}
	}))

	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		browserHeaders(w)

		w.Header().Set("Content-Type", "text/html; charset=utf-8")

		w.WriteHeader(200)

		io.WriteString(w, RendezvousDefaultHTML)
	}))

	mux.Handle("/robots.txt", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		browserHeaders(w)
		io.WriteString(w, "User-agent: *\nDisallow: /\n")
	}))

	httpsrv := &http.Server{
		Addr:    addr,
		Handler: mux,

		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		httpsrv.Shutdown(context.Background())
	}()

	slog.Info("rendezvous: serving http", "addr", addr)
	err = httpsrv.ListenAndServe()

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("rendezvous: http error", "err", err)
	}

	if err := server.Close(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("rendezvous: error on close: %v", err)
	}
}

// applyFlags overlays the flags given on the command line onto cfg.
func applyFlags(cfg *rendezvous.Config) error {
	var err error

	flag.Visit(func(f *flag.Flag) {
		if err != nil {
			return
		}

		switch f.Name {
		case "mode":
			cfg.Mode, err = rendezvous.ParseMode(*mode)
		case "port":
			cfg.Port = uint16(*port)
		case "max-peers":
			cfg.MaxPeers = *maxPeers
		case "6":
			cfg.IPv6 = *ipv6
		case "allow":
			cfg.Allow, err = rendezvous.ParseAllowList(strings.Split(*allow, ","))
		}
	})

	return err
}

func browserHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'; form-action 'self'; base-uri 'self'; block-all-mixed-content; object-src 'none'")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
