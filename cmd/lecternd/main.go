// Command lecternd runs the lectern daemon using the default configuration
// search path.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"lectern/internal/config"
	"lectern/internal/daemonrun"
)

func main() {
	if err := run(context.Background(), os.Getenv("LECTERN_CONFIG")); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := daemonrun.Run(ctx, cfg, daemonrun.Options{LogLevel: os.Getenv("LECTERN_LOG_LEVEL")}); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
