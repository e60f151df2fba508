package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"newsletter-indexer/internal/config"
	"newsletter-indexer/internal/embedding"
	imapclient "newsletter-indexer/internal/imap"
	"newsletter-indexer/internal/ingest"
	"newsletter-indexer/internal/loader"
	"newsletter-indexer/internal/logging"
	"newsletter-indexer/internal/models"
	"newsletter-indexer/internal/newsletter"
	"newsletter-indexer/internal/query"
	"newsletter-indexer/internal/scheduler"
	"newsletter-indexer/internal/vectorstore"

	"github.com/urfave/cli/v2"
)

// loadConfig reads the configuration and applies the log level, the flag taking precedence
func loadConfig(c *cli.Context) (*models.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("error reading configuration file: %w", err)
	}

	level := cfg.LogLevel
	if c.IsSet("log-level") {
		level = c.String("log-level")
	}
	if level != "" {
		if err := logging.SetLevel(level); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// openIndex dials the vector store. The embedder is only required by commands
// that embed text; the others run without an API key.
func openIndex(cfg *models.Config, needEmbedder bool) (*vectorstore.QdrantIndex, error) {
	var embedder embedding.Embedder
	e, err := embedding.NewOpenAIEmbedder(cfg.Embedding)
	switch {
	case err == nil:
		embedder = e
	case needEmbedder:
		return nil, err
	}
	return vectorstore.NewQdrantIndex(cfg.Vector, embedder)
}

func newPipeline(cfg *models.Config, index vectorstore.Index) *newsletter.Service {
	ingestor := ingest.NewIngestor(cfg.Email, func() imapclient.Client {
		return imapclient.NewStandardClient()
	})
	ld := loader.New(index, loader.OptionsFromConfig(cfg.Vector))
	return newsletter.NewService(ingestor, ld, cfg)
}

func serveCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	index, err := openIndex(cfg, true)
	if err != nil {
		return err
	}
	defer index.Close()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipeline := newPipeline(cfg, index)
	sched := scheduler.New(pipeline.Run, cfg.Email.RefreshTime)
	if err := sched.Start(ctx); err != nil {
		return err
	}

	// kill -USR1 asks the running server for a refresh, joining any run in flight
	refresh := make(chan os.Signal, 1)
	signal.Notify(refresh, syscall.SIGUSR1)
	defer signal.Stop(refresh)
	go triggerOnSignal(ctx, sched, refresh)

	<-ctx.Done()
	logging.Log.Info("Shutdown requested")
	sched.Stop()
	return nil
}

type trigger interface {
	Trigger(ctx context.Context) (*models.RunResult, error)
}

// triggerOnSignal starts a run for every value received on sigs until ctx ends
func triggerOnSignal(ctx context.Context, t trigger, sigs <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			logging.Log.Infof("Received %s, refreshing", sig)
			go func() {
				result, err := t.Trigger(ctx)
				if err != nil {
					return
				}
				logging.Log.WithField("trace_id", result.TraceID).Infof("On-demand refresh processed %d emails", result.Processed)
			}()
		}
	}
}

type refreshResponse struct {
	Status         string `json:"status"`
	ProcessedCount int    `json:"processed_count"`
	TraceID        string `json:"trace_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

func refreshCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	index, err := openIndex(cfg, true)
	if err != nil {
		return err
	}
	defer index.Close()

	result, err := newPipeline(cfg, index).Run(c.Context)
	resp := refreshResponse{Status: "success"}
	if result != nil {
		resp.ProcessedCount = result.Processed
		resp.TraceID = result.TraceID
	}
	if err != nil {
		resp.Status = "error"
		resp.Error = err.Error()
		_ = writeJSON(c.App.Writer, resp)
		return cli.Exit("", 1)
	}
	return writeJSON(c.App.Writer, resp)
}

func initCommand(c *cli.Context) error {
	return withQuery(c, true, func(ctx context.Context, svc *query.Service) (any, error) {
		if err := svc.InitSchema(ctx, c.Bool("clear")); err != nil {
			return nil, err
		}
		return map[string]string{"status": "success", "message": "Schema initialized"}, nil
	})
}

func healthCommand(c *cli.Context) error {
	return withQuery(c, false, func(ctx context.Context, svc *query.Service) (any, error) {
		if err := svc.Health(ctx); err != nil {
			return nil, err
		}
		return map[string]string{"status": "healthy"}, nil
	})
}

func countCommand(c *cli.Context) error {
	return withQuery(c, false, func(ctx context.Context, svc *query.Service) (any, error) {
		n, err := svc.Count(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]uint64{"total_count": n}, nil
	})
}

func recentCommand(c *cli.Context) error {
	return withQuery(c, false, func(ctx context.Context, svc *query.Service) (any, error) {
		return svc.Recent(ctx, c.Int("limit"))
	})
}

func searchCommand(c *cli.Context) error {
	q := strings.Join(c.Args().Slice(), " ")
	return withQuery(c, true, func(ctx context.Context, svc *query.Service) (any, error) {
		return svc.Search(ctx, q, c.StringSlice("field"), c.Int("limit"))
	})
}

// withQuery opens the index, runs fn and prints its result as JSON. An
// unavailable store prints {"status": "unavailable"} and exits non-zero.
func withQuery(c *cli.Context, needEmbedder bool, fn func(context.Context, *query.Service) (any, error)) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	index, err := openIndex(cfg, needEmbedder)
	if err != nil {
		return err
	}
	defer index.Close()

	out, err := fn(c.Context, query.NewService(index))
	if errors.Is(err, query.ErrUnavailable) {
		_ = writeJSON(c.App.Writer, map[string]string{"status": "unavailable", "error": err.Error()})
		return cli.Exit("", 1)
	}
	if err != nil {
		return err
	}
	return writeJSON(c.App.Writer, out)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
