// Command rhizome draws a reading, maps it over several enrichment rounds
// and writes the archived session in an export format.
//
// Draw a fresh reading and map it:
//
//	go run -tags sqlite_fts5 ./cmd/rhizome \
//	  --kind specific \
//	  --question "What is shifting in my work?" \
//	  --mode chaos \
//	  --format html --out reading.html
//
// Map an existing narrative (txt, md, pdf, or a workbook exported earlier)
// through a relay:
//
//	go run -tags sqlite_fts5 ./cmd/rhizome \
//	  --narrative-file ./reading.xlsx \
//	  --relay http://localhost:3000 \
//	  --format json
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bbiangul/rhizome"
	"github.com/bbiangul/rhizome/export"
	"github.com/bbiangul/rhizome/graph"
	"github.com/bbiangul/rhizome/mapping"
	"github.com/bbiangul/rhizome/reading"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML)")
	kind := flag.String("kind", "general", "Reading type: specific, general or deep")
	question := flag.String("question", "", "Question for the reading")
	followUp := flag.String("followup", "", "Follow-up question appended to the reading before mapping")
	mode := flag.String("mode", "control", "Mapping mode: control or chaos")
	rounds := flag.Int("rounds", 0, "Enrichment rounds (0 uses config)")
	narrativeFile := flag.String("narrative-file", "", "Map this file instead of drawing a new reading")
	relayURL := flag.String("relay", "", "Send completions through this relay")
	format := flag.String("format", "txt", "Export format: txt, json, html or xlsx")
	out := flag.String("out", "", "Output file (default stdout, or a generated name for xlsx)")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(*configPath, options{
		kind:          *kind,
		question:      *question,
		followUp:      *followUp,
		mode:          *mode,
		rounds:        *rounds,
		narrativeFile: *narrativeFile,
		relayURL:      *relayURL,
		format:        *format,
		out:           *out,
	}); err != nil {
		slog.Error("rhizome failed", "error", err)
		os.Exit(1)
	}
}

type options struct {
	kind, question, followUp string
	mode                     string
	rounds                   int
	narrativeFile            string
	relayURL                 string
	format, out              string
}

func run(configPath string, o options) error {
	cfg, err := rhizome.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if o.relayURL != "" {
		cfg.RelayURL = o.relayURL
	}

	k, err := reading.ParseKind(o.kind)
	if err != nil {
		return err
	}
	m, err := mapping.ParseMode(o.mode)
	if err != nil {
		return err
	}
	f, err := export.ParseFormat(o.format)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := rhizome.New(cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	narrative, q, err := narrativeFor(ctx, engine, k, o)
	if err != nil {
		return err
	}

	start := time.Now()
	session, err := engine.Map(ctx, rhizome.MapRequest{
		Kind:      k,
		Question:  q,
		Narrative: narrative,
		Mode:      m,
		Rounds:    o.rounds,
		Observer: mapping.Observer{
			OnNodes: func(nodes []graph.Node) {
				slog.Info("nodes extracted", "count", len(nodes))
			},
			OnRound: func(cp graph.Checkpoint) {
				slog.Info(mapping.RoundDescription(cp.Round),
					"round", cp.Round, "nodes", cp.NodeCount, "edges", cp.EdgeCount)
			},
		},
	})
	if err != nil {
		return err
	}
	slog.Info("mapping complete", "id", session.ID,
		"nodes", len(session.Graph.Nodes),
		"edges", len(session.Graph.Edges),
		"elapsed", time.Since(start).Round(time.Millisecond))

	w, closeOut, err := output(o.out, f, session)
	if err != nil {
		return err
	}
	if err := engine.Export(ctx, session.ID, f, w); err != nil {
		closeOut()
		return err
	}
	return closeOut()
}

// narrativeFor returns the narrative to map: the imported file when one is
// given, otherwise a freshly drawn reading, extended by the follow-up.
func narrativeFor(ctx context.Context, engine rhizome.Engine, k reading.Kind, o options) (string, string, error) {
	var narrative string
	q := o.question

	if o.narrativeFile != "" {
		res, err := engine.ImportNarrative(ctx, o.narrativeFile)
		if err != nil {
			return "", "", err
		}
		narrative = res.Text()
		if q == "" {
			q = res.Metadata["question"]
		}
	} else {
		if q == "" {
			return "", "", fmt.Errorf("%w: --question or --narrative-file is required", rhizome.ErrInvalidRequest)
		}
		text, err := engine.Read(ctx, k, q)
		if err != nil {
			return "", "", err
		}
		narrative = text
		for _, mt := range engine.Mentions(text) {
			slog.Info("card drawn", "card", mt.DisplayName())
		}
	}

	if strings.TrimSpace(o.followUp) != "" {
		extended, err := engine.FollowUp(ctx, narrative, o.followUp)
		if err != nil {
			return "", "", err
		}
		narrative = extended
	}
	return narrative, q, nil
}

// output opens the destination. Workbooks are binary and never go to a
// terminal, so xlsx without --out gets a generated file name.
func output(path string, f export.Format, s *rhizome.Session) (io.Writer, func() error, error) {
	if path == "" && f == export.FormatXLSX {
		path = s.Document().Filename(f)
	}
	if path == "" {
		return os.Stdout, func() error { return nil }, nil
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("writing export", "path", path, "format", f)
	return file, file.Close, nil
}
