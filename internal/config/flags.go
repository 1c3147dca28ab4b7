package config

import (
	"flag"
	"os"

	"github.com/archeonlabs/cloudcore/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-d string   store DSN
//	-r string   store driver ("pgx" or "sqlite")
//	-s string   session signing secret
//	-w int      background worker bound
//
// Only the flags handled here are parsed; the rest of os.Args is left for
// other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-r", "-s", "-w"})

	fs := flag.NewFlagSet("cloudcore", flag.ContinueOnError)
	fs.StringVar(&cfg.StoreDSN, "d", cfg.StoreDSN, "store DSN")
	fs.StringVar(&cfg.StoreDriver, "r", cfg.StoreDriver, "store driver")
	fs.StringVar(&cfg.SecretKey, "s", cfg.SecretKey, "session signing secret")
	fs.Int64Var(&cfg.Workers, "w", cfg.Workers, "background worker bound")
	_ = fs.Parse(args)
}
