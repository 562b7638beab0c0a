// indexbridge: incremental code indexing MCP server
//
// Keeps a vector index and a code graph index current as files change,
// journaling every mutation in a write-ahead log so failed updates are
// retried in the background.
//
// Usage:
//
//	indexbridge serve              # Start MCP server (stdio transport)
//	indexbridge stats              # Print WAL and index statistics
//	indexbridge run-task <name>    # Run wal_recovery or wal_cleanup once
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/HendryAvila/indexbridge/internal/config"
	ibserver "github.com/HendryAvila/indexbridge/internal/server"
	"github.com/dustin/go-humanize"
	"github.com/mark3labs/mcp-go/server"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "stats":
		err = runStats(os.Args[2:], os.Stdout)
	case "run-task":
		err = runTask(os.Args[2:], os.Stdout)
	case "--help", "-h", "help":
		printUsage()
		os.Exit(0)
	case "--version", "-v", "version":
		fmt.Printf("indexbridge v%s\n", ibserver.Version)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup parses args into a Config, initializes logging, and builds the
// Service. It returns the positional arguments left over.
func setup(args []string, reg prometheus.Registerer) (*ibserver.Service, []string, error) {
	cfg, rest, err := config.Parse(args)
	if err != nil {
		return nil, nil, err
	}
	if err = config.InitLog(cfg.Log); err != nil {
		return nil, nil, err
	}
	svc, err := ibserver.NewService(afero.NewOsFs(), cfg, reg)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "creating service")
	}
	return svc, rest, nil
}

func runServe(args []string) error {
	var reg = prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc, _, err := setup(args, reg)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err = svc.Scheduler.Start(); err != nil {
		return errors.WithMessage(err, "starting scheduler")
	}

	var g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		// The MCP session ends when the host closes stdin.
		defer cancel()
		err := server.NewStdioServer(ibserver.New(svc)).Listen(gctx, os.Stdin, os.Stdout)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if addr := svc.Config.Ops.Addr; addr != "" {
		g.Go(func() error {
			return ibserver.ServeOps(gctx, addr, ibserver.OpsRouter(svc, reg))
		})
	}

	err = g.Wait()
	log.Info("indexbridge shutting down")
	return err
}

func runStats(args []string, out io.Writer) error {
	svc, _, err := setup(args, nil)
	if err != nil {
		return err
	}
	defer svc.Close()
	return printStats(context.Background(), svc, out)
}

func runTask(args []string, out io.Writer) error {
	svc, rest, err := setup(args, nil)
	if err != nil {
		return err
	}
	defer svc.Close()

	if len(rest) != 1 {
		return errors.New("usage: indexbridge run-task <wal_recovery|wal_cleanup>")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = svc.Scheduler.RunNow(ctx, rest[0]); err != nil {
		return err
	}
	return printStats(ctx, svc, out)
}

func printStats(ctx context.Context, svc *ibserver.Service, out io.Writer) error {
	stats, err := svc.WAL.Statistics()
	if err != nil {
		return err
	}
	files, size, err := svc.WAL.ContentStore().Size()
	if err != nil {
		return err
	}
	vs, err := svc.Vector.Stats(ctx, svc.Config.Index.Collection, svc.Config.Index.UserID)
	if err != nil {
		return err
	}
	gs, err := svc.Graph.Stats(ctx)
	if err != nil {
		return err
	}

	var table = tablewriter.NewWriter(out)
	table.Header("Metric", "Value")
	for _, row := range [][]string{
		{"WAL operations", strconv.Itoa(stats.Total)},
		{"  pending", strconv.Itoa(stats.Pending)},
		{"  success", strconv.Itoa(stats.Success)},
		{"  failed", strconv.Itoa(stats.Failed)},
		{"WAL content", fmt.Sprintf("%d files, %s", files, humanize.IBytes(uint64(size)))},
		{"Vector index", fmt.Sprintf("%s files, %s chunks", humanize.Comma(int64(vs.Files)), humanize.Comma(int64(vs.Chunks)))},
		{"Graph index", fmt.Sprintf("%s nodes, %s edges", humanize.Comma(int64(gs.Nodes)), humanize.Comma(int64(gs.Edges)))},
	} {
		if err = table.Append(row); err != nil {
			return errors.WithMessage(err, "building stats table")
		}
	}
	return errors.WithMessage(table.Render(), "rendering stats table")
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `indexbridge v%s: incremental code indexing MCP server

Usage:
  indexbridge serve [options]              Start the MCP server (stdio transport)
  indexbridge stats [options]              Print WAL and index statistics
  indexbridge run-task <name> [options]    Run wal_recovery or wal_cleanup once
  indexbridge version                      Print the version

Configuration:
  Add to your AI tool's MCP config:

  {
    "mcpServers": {
      "indexbridge": {
        "command": "indexbridge",
        "args": ["serve", "--data-dir", "/path/to/data"]
      }
    }
  }

%s`, ibserver.Version, config.Usage())
}
