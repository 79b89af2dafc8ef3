package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"pharmsync/internal/app"
	"pharmsync/internal/config"
	"pharmsync/internal/logging"
	"pharmsync/internal/models"

	"github.com/rs/zerolog"
)

const usage = `usage: synctl [-config path] <command> [flags] [args]

commands:
  import -backend <id|name> <entity>            run one incremental pass
  cron-import <entity>                          run a pass on every active backend
  resync [-priority n] <entity>                 force re-import of every bound record
  force-sync -backend <id|name> <entity> <id>   force re-import of one record
  import-fdb -backend <id|name> [-ndc]          import drug reference tables
  reset-watermark -backend <id|name> <entity>   restart the next pass from date_data_start
`

var errUsage = errors.New("invalid usage")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "synctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	global := flag.NewFlagSet("synctl", flag.ContinueOnError)
	global.SetOutput(io.Discard)
	configPath := global.String("config", envOr("CONFIG_PATH", "configs/config.yaml"), "config file")
	if err := global.Parse(args); err != nil {
		return errUsage
	}
	if global.NArg() == 0 {
		return errUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	base, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}
	logger := base.With().Str("component", "synctl").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return dispatch(ctx, a, global.Arg(0), global.Args()[1:], out, &logger)
}

func dispatch(ctx context.Context, a *app.App, cmd string, args []string, out io.Writer, logger *zerolog.Logger) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	backendRef := fs.String("backend", "", "backend id or name")
	priority := fs.Int("priority", 0, "task priority, lower runs first")
	ndc := fs.Bool("ndc", false, "import NDC records by the backend's control code")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	entityArg := func() (models.EntityInfo, error) {
		if fs.NArg() < 1 {
			return models.EntityInfo{}, errUsage
		}
		return a.Registry.ParseEntity(fs.Arg(0))
	}

	switch cmd {
	case "import":
		info, err := entityArg()
		if err != nil {
			return err
		}
		backend, err := requireBackend(ctx, a, *backendRef)
		if err != nil {
			return err
		}
		res, err := a.Scheduler.ImportFromDate(ctx, backend, info.Type)
		if err != nil {
			return err
		}
		return printJSON(out, res)

	case "cron-import":
		info, err := entityArg()
		if err != nil {
			return err
		}
		results, err := a.Scheduler.CronImport(ctx, info.Type)
		if perr := printJSON(out, results); perr != nil {
			return perr
		}
		return err

	case "resync":
		info, err := entityArg()
		if err != nil {
			return err
		}
		n, err := a.Scheduler.ResyncAll(ctx, info.Type, *priority)
		if err != nil {
			return err
		}
		return printJSON(out, map[string]int{"submitted": n})

	case "force-sync":
		info, err := entityArg()
		if err != nil {
			return err
		}
		if fs.NArg() < 2 {
			return errUsage
		}
		backend, err := requireBackend(ctx, a, *backendRef)
		if err != nil {
			return err
		}
		if err := a.Scheduler.ForceSync(ctx, info.Type, fs.Arg(1), backend.ID); err != nil {
			return err
		}
		return printJSON(out, map[string]int{"submitted": 1})

	case "import-fdb":
		backend, err := requireBackend(ctx, a, *backendRef)
		if err != nil {
			return err
		}
		var n int
		if *ndc {
			n, err = a.Scheduler.ImportFDBByControlCode(ctx, backend.ID)
		} else {
			n, err = a.Scheduler.ImportFDB(ctx, backend.ID)
		}
		if err != nil {
			return err
		}
		return printJSON(out, map[string]int{"submitted": n})

	case "reset-watermark":
		info, err := entityArg()
		if err != nil {
			return err
		}
		backend, err := requireBackend(ctx, a, *backendRef)
		if err != nil {
			return err
		}
		if !info.Trackable {
			return fmt.Errorf("%s has no watermark", info.Type)
		}
		if err := a.DB.ResetWatermark(ctx, backend.ID, info); err != nil {
			return err
		}
		logger.Info().Str("backend", backend.Name).Str("entity", string(info.Type)).Msg("watermark reset")
		return printJSON(out, map[string]string{"backend": backend.Name, "entity": string(info.Type), "status": "reset"})

	default:
		return errUsage
	}
}

func requireBackend(ctx context.Context, a *app.App, ref string) (*models.Backend, error) {
	if ref == "" {
		return nil, fmt.Errorf("%w: -backend is required", errUsage)
	}
	return a.Backend(ctx, ref)
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
