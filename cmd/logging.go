package cmd

import (
	"fmt"
	"strings"

	"github.com/achilleasa/polaris-denoise/log"
	"github.com/urfave/cli"
)

var logger = log.New("polaris")

func setupLogging(ctx *cli.Context) error {
	if ctx.GlobalBool("v") {
		log.SetLevel(log.Info)
	}

	if ctx.GlobalBool("vv") {
		log.SetLevel(log.Debug)
	}

	// Per-module overrides, e.g. bmfr=debug
	for _, override := range ctx.GlobalStringSlice("log-module") {
		module, levelName, ok := strings.Cut(override, "=")
		if !ok || module == "" {
			return fmt.Errorf("invalid log module override %q; expected module=level", override)
		}
		level, err := log.ParseLevel(levelName)
		if err != nil {
			return err
		}
		log.SetModuleLevel(module, level)
	}
	return nil
}
