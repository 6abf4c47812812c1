// hastefs builds the haste map for the configured roots and reports what it
// indexed. With --watch it stays attached and logs incremental updates.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	internal "github.com/ZanzyTHEbar/hastefs/hastefs"
	"github.com/ZanzyTHEbar/hastefs/hastefs/config"
	"github.com/ZanzyTHEbar/hastefs/hastefs/hastemap"
)

func main() {
	configPath := flag.String("config", "", "path to the config file")
	resetCache := flag.Bool("reset-cache", false, "ignore the existing cache and rebuild from scratch")
	watch := flag.Bool("watch", false, "keep running and apply file system changes")
	flag.Parse()

	logger := internal.GetLogger()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	opts := cfg.Hastefs.BuildOptions()
	if *resetCache {
		opts.ResetCache = true
	}

	haste, err := hastemap.New(opts)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid haste map options")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	start := time.Now()
	result, err := haste.Build(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("haste map build failed")
	}
	logger.Info().
		Int("files", result.FileStore.Len()).
		Str("cache", haste.CachePath()).
		Dur("elapsed", time.Since(start)).
		Msg("haste map built")

	if !*watch {
		return
	}

	session, err := haste.Watch(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start watch session")
	}
	defer session.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-session.Events():
			if !ok {
				return
			}
			event := logger.Info().Str("path", change.Path)
			if change.Removed {
				event.Msg("file removed from haste map")
				continue
			}
			event.Int64("mtime", change.MTime).Msg("file updated in haste map")
		}
	}
}
