// CLAUDE:SUMMARY CLI entry point: subcommand dispatch, configuration loading and Service construction shared by every subcommand.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/hazyhaar/french-cities/pkg/config"
	"github.com/hazyhaar/french-cities/pkg/frenchcities"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	args := os.Args[2:]
	switch os.Args[1] {
	case "find-city":
		cmdFindCity(args)
	case "departements":
		cmdDepartements(args)
	case "vintage":
		cmdVintage(args)
	case "serve":
		cmdServe(args)
	case "mcp":
		cmdMCP(args)
	case "import":
		cmdImport(args)
	case "check-sources":
		cmdCheckSources(args)
	case "clear-cache":
		cmdClearCache(args)
	case "version":
		fmt.Println(version)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: frenchcities <command> [flags]

Commands:
  find-city      Add INSEE city codes to a CSV file
  departements   Add department codes to a CSV file
  vintage        Project INSEE city codes of a CSV file onto a year
  serve          Start the HTTP and MCP server
  mcp            Serve MCP tools on stdin/stdout
  import         Import reference tables (postcodes, communes)
  check-sources  Check that import sources are reachable
  clear-cache    Empty every cache
  version        Print the version

Run "frenchcities <command> -h" for the flags of a command.
`)
}

// configFlag registers the -config flag shared by every subcommand.
func configFlag(fs *flag.FlagSet) *string {
	return fs.String("config", "config.yaml", "path to config file (optional)")
}

// openService loads the configuration and builds the Service, exiting on error.
func openService(ctx context.Context, cfgPath string, opts ...frenchcities.Option) (*frenchcities.Service, config.Config, *slog.Logger) {
	logger := config.NewLogger()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	svc, err := frenchcities.New(ctx, cfg, logger, opts...)
	if err != nil {
		logger.Error("init", "error", err)
		os.Exit(1)
	}
	return svc, cfg, logger
}
