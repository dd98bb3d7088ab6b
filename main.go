package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"

	"dicebot/ledger"
	"dicebot/utils"
)

// version is set by ldflags during build
var version = "dev"

// Globals are flags shared by every command.
type Globals struct {
	EnvFile  string `name:"env-file" default:".env" help:"Dotenv file loaded before reading the environment"`
	LogLevel string `name:"log-level" help:"Override LOG_LEVEL (debug, info, warn, error)"`

	out io.Writer `kong:"-"`
}

type CLI struct {
	Globals

	Version kong.VersionFlag `short:"v" help:"Show version"`
	Serve   ServeCmd         `cmd:"" default:"withargs" help:"Run the Discord bot, health server and session sweeper"`
	Migrate MigrateCmd       `cmd:"" help:"Apply the ledger schema and exit"`
	Player  PlayerCmd        `cmd:"" help:"Inspect and seed player accounts"`
}

func main() {
	var cli CLI
	cli.out = os.Stdout
	ctx := kong.Parse(&cli,
		kong.Name("dicebot"),
		kong.Description("Discord bot for two-player dice duels"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version,
		},
	)
	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}

// load reads the configuration and builds the root logger.
func (g *Globals) load() (utils.Config, *log.Logger, error) {
	cfg, err := utils.LoadConfig(g.EnvFile)
	if err != nil {
		return utils.Config{}, nil, err
	}
	if g.LogLevel != "" {
		cfg.LogLevel = g.LogLevel
	}
	return cfg, utils.NewLogger(cfg.LogLevel), nil
}

func (g *Globals) openLedger(ctx context.Context) (ledger.Ledger, utils.Config, *log.Logger, error) {
	cfg, logger, err := g.load()
	if err != nil {
		return nil, utils.Config{}, nil, err
	}
	l, err := utils.OpenLedger(ctx, cfg, logger.WithPrefix("ledger"))
	if err != nil {
		return nil, utils.Config{}, nil, err
	}
	return l, cfg, logger, nil
}

func (g *Globals) printf(format string, args ...any) {
	w := g.out
	if w == nil {
		w = os.Stdout
	}
	fmt.Fprintf(w, format, args...)
}
