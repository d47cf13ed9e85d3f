package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/watt-toolkit/strand/pkg/strand/server"
)

// envPrefix prefixes environment overrides, e.g. STRAND_ADDR.
const envPrefix = "STRAND_"

// Config holds the command line configuration.
type Config struct {
	Addr           string
	MetricsAddr    string
	Mode           server.Mode
	Workers        int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxRequests    int
	MaxConnections int
	Compress       bool
	ServerName     string
	ShutdownGrace  time.Duration
	Dev            bool
}

// parseConfig reads flags from args. A variable STRAND_<FLAG> (dashes
// become underscores, upper case) overrides the default of that flag;
// explicit flags win over the environment.
func parseConfig(args []string, getenv func(string) string, out io.Writer) (*Config, error) {
	def := server.DefaultConfig()
	cfg := &Config{}
	var mode string

	fs := flag.NewFlagSet("strand-serve", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&cfg.Addr, "addr", ":8080", "HTTP listen address")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", ":9090", "Prometheus listen address (empty disables)")
	fs.StringVar(&mode, "mode", server.ModeWorkerPool.String(), "dispatch mode: pool, single or per-conn")
	fs.IntVar(&cfg.Workers, "workers", def.Workers, "worker goroutines in pool mode")
	fs.DurationVar(&cfg.ReadTimeout, "read-timeout", def.ReadTimeout, "request read timeout")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", def.WriteTimeout, "response write timeout")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", def.IdleTimeout, "keep-alive idle timeout")
	fs.IntVar(&cfg.MaxRequests, "max-requests", 0, "requests per connection (0 = unlimited)")
	fs.IntVar(&cfg.MaxConnections, "max-conns", 0, "concurrent connections (0 = unlimited)")
	fs.BoolVar(&cfg.Compress, "compress", true, "gzip/br compression of text responses")
	fs.StringVar(&cfg.ServerName, "server-name", "strand", "Server header value")
	fs.DurationVar(&cfg.ShutdownGrace, "shutdown-grace", 10*time.Second, "time busy connections get on shutdown")
	fs.BoolVar(&cfg.Dev, "dev", false, "development logging")

	var envErr error
	fs.VisitAll(func(f *flag.Flag) {
		if envErr != nil {
			return
		}
		if v := getenv(envName(f.Name)); v != "" {
			if err := f.Value.Set(v); err != nil {
				envErr = fmt.Errorf("%s: %w", envName(f.Name), err)
				return
			}
			f.DefValue = v
		}
	})
	if envErr != nil {
		return nil, envErr
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	m, ok := server.ParseMode(mode)
	if !ok {
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
	cfg.Mode = m
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("workers must be positive, got %d", cfg.Workers)
	}
	return cfg, nil
}

func envName(flagName string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}
