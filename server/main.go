package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/docopt/docopt-go"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/commonlang/community/community"
)

const LocalVersion = "0.0.0-local"

const DefaultPort = 8406

type Config struct {
	Port        int    `env:"COMMUNITY_PORT" env-default:"8406"`
	DataDir     string `env:"COMMUNITY_DATA_DIR" env-default:"data"`
	CitationDir string `env:"COMMUNITY_CITATION_DIR" env-default:"citation"`
}

func main() {
	usage := fmt.Sprintf(
		`Community server.

Clients attach on /community over websocket, bind a session identity and
join the community room for live submissions, votes and utterances.

Flags override the COMMUNITY_PORT, COMMUNITY_DATA_DIR and
COMMUNITY_CITATION_DIR environment. The default port is %d.

Usage:
    server serve [--port=<port>] [--data_dir=<data_dir>] [--citation_dir=<citation_dir>]

Options:
    -h --help                      Show this screen.
    --version                      Show version.
    --data_dir=<data_dir>          Root of the log and struct stores.
    --citation_dir=<citation_dir>  Citation corpus root.
    -p --port=<port>               Listen port.`,
		DefaultPort,
	)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], RequireVersion())
	if err != nil {
		panic(err)
	}

	if serve_, _ := opts.Bool("serve"); serve_ {
		serve(opts)
	}
}

func serve(opts docopt.Opts) {
	var config Config
	if err := cleanenv.ReadEnv(&config); err != nil {
		panic(err)
	}

	if opts["--port"] != nil {
		if port, err := opts.Int("--port"); err == nil {
			config.Port = port
		}
	}
	if dataDirAny := opts["--data_dir"]; dataDirAny != nil {
		config.DataDir = dataDirAny.(string)
	}
	if citationDirAny := opts["--citation_dir"]; citationDirAny != nil {
		config.CitationDir = citationDirAny.(string)
	}

	logDir := filepath.Join(config.DataDir, "log")
	structsDir := filepath.Join(config.DataDir, "structs")
	for _, dir := range []string{logDir, structsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			panic(err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer cancel()

	logStore := community.NewLogStoreWithDefaults(logDir)
	structStore := community.NewStructStoreWithDefaults(structsDir)
	citationStore := community.NewCitationStore(config.CitationDir)
	service := community.NewServiceWithDefaults(ctx, logStore, structStore, citationStore)

	mux := http.NewServeMux()
	mux.HandleFunc("/", index)
	mux.Handle("/status", &Status{})
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/community", service)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Port),
		Handler: mux,
	}

	fmt.Printf("community %s on *:%d\n", RequireVersion(), config.Port)

	go func() {
		defer cancel()
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			fmt.Printf("serve error: %s\n", err)
		}
	}()

	select {
	case <-ctx.Done():
	}

	server.Shutdown(context.Background())
}

func index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "Community server %s\n", RequireVersion())
}

type Status struct {
}

func (self *Status) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	result := fmt.Sprintf(
		`{"version":%q,"status":"ok","host":%q}`,
		RequireVersion(),
		RequireHost(),
	)
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(result))
}

func RequireHost() string {
	if host := os.Getenv("COMMUNITY_HOST"); host != "" {
		return host
	}
	host, err := os.Hostname()
	if err != nil {
		panic(err)
	}
	return host
}

func RequireVersion() string {
	if version := os.Getenv("COMMUNITY_VERSION"); version != "" {
		return version
	}
	return LocalVersion
}
