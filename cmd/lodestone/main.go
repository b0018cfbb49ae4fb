package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/efebarandurmaz/lodestone/internal/chunker"
	"github.com/efebarandurmaz/lodestone/internal/config"
	"github.com/efebarandurmaz/lodestone/internal/embed"
	"github.com/efebarandurmaz/lodestone/internal/embed/mock"
	"github.com/efebarandurmaz/lodestone/internal/embed/openai"
	"github.com/efebarandurmaz/lodestone/internal/knowledge"
	"github.com/efebarandurmaz/lodestone/internal/observability"
	"github.com/efebarandurmaz/lodestone/internal/rerank"
	"github.com/efebarandurmaz/lodestone/internal/rerank/cohere"
	"github.com/efebarandurmaz/lodestone/internal/vector"
	"github.com/efebarandurmaz/lodestone/internal/vector/local"
	"github.com/efebarandurmaz/lodestone/internal/vector/qdrant"
)

func main() {
	var (
		configPath string
		userID     string
		agentID    string
		runID      string
		metaPairs  []string
		limit      int
		noRerank   bool
		jsonOutput bool
	)

	rootCmd := &cobra.Command{
		Use:   "lodestone",
		Short: "Knowledge retrieval engine: ingest, embed, and search",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "", "Scope: user id")
	rootCmd.PersistentFlags().StringVar(&agentID, "agent", "", "Scope: agent id")
	rootCmd.PersistentFlags().StringVar(&runID, "run", "", "Scope: run id")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	scope := func() vector.Scope {
		return vector.Scope{UserID: userID, AgentID: agentID, RunID: runID}
	}

	addCmd := &cobra.Command{
		Use:   "add <source>",
		Short: "Ingest a file or literal text into the collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, cleanup, err := buildKnowledge(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			meta, err := parseMetadata(metaPairs)
			if err != nil {
				return err
			}
			ids, err := k.Add(cmd.Context(), args[0], scope(), meta)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(map[string]any{"ids": ids})
			}
			fmt.Printf("Stored %d chunks\n", len(ids))
			return nil
		},
	}
	addCmd.Flags().StringArrayVar(&metaPairs, "meta", nil, "Metadata key=value (repeatable)")

	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, cleanup, err := buildKnowledge(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			results, err := k.Search(cmd.Context(), args[0], scope(), limit, !noRerank)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(results)
			}
			if len(results) == 0 {
				fmt.Println("No results")
				return nil
			}
			for i, r := range results {
				fmt.Printf("%d. [%.3f] %s\n   %s\n", i+1, r.Score, r.Source, firstLine(r.Text))
			}
			return nil
		},
	}
	searchCmd.Flags().IntVar(&limit, "limit", knowledge.DefaultSearchLimit, "Maximum results")
	searchCmd.Flags().BoolVar(&noRerank, "no-rerank", false, "Skip the rerank stage")

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Fetch a stored chunk by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, cleanup, err := buildKnowledge(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			rec, err := k.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(recordView(rec))
			}
			fmt.Printf("id:      %s\nsource:  %s\nchunk:   %d/%d\ncreated: %s\n\n%s\n",
				rec.ID, rec.Source, rec.ChunkIndex+1, rec.ChunkCount,
				rec.CreatedAt.Format("2006-01-02 15:04:05"), rec.Text)
			return nil
		},
	}

	var newText string
	updateCmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a stored chunk's text or metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, cleanup, err := buildKnowledge(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			meta, err := parseMetadata(metaPairs)
			if err != nil {
				return err
			}
			upd := knowledge.Update{Metadata: meta}
			if cmd.Flags().Changed("text") {
				upd.Text = &newText
			}
			rec, err := k.UpdateRecord(cmd.Context(), args[0], upd)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(recordView(rec))
			}
			fmt.Printf("Updated %s\n", rec.ID)
			return nil
		},
	}
	updateCmd.Flags().StringVar(&newText, "text", "", "Replacement text (re-embedded)")
	updateCmd.Flags().StringArrayVar(&metaPairs, "meta", nil, "Metadata key=value (repeatable, replaces all)")

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a stored chunk by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, cleanup, err := buildKnowledge(configPath)
			if err != nil {
				return err
			}
			defer cleanup()
			return k.Delete(cmd.Context(), args[0])
		},
	}

	historyCmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show the mutation history for a chunk id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, cleanup, err := buildKnowledge(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			entries := k.History(args[0])
			if jsonOutput {
				return printJSON(entries)
			}
			if len(entries) == 0 {
				fmt.Println("No history")
				return nil
			}
			for _, e := range entries {
				fmt.Printf("%s  %s\n", e.At.Format("2006-01-02 15:04:05"), e.Op)
			}
			return nil
		},
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show collection statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, cleanup, err := buildKnowledge(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := k.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(stats)
			}
			fmt.Printf("collection: %s\nchunks:     %d\nsources:    %d\n",
				stats.Collection, stats.TotalChunks, stats.DistinctSources)
			return nil
		},
	}

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop every chunk in the collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, cleanup, err := buildKnowledge(configPath)
			if err != nil {
				return err
			}
			defer cleanup()
			return k.Reset(cmd.Context())
		},
	}

	rootCmd.AddCommand(addCmd, searchCmd, getCmd, updateCmd, deleteCmd, historyCmd, statsCmd, resetCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// buildKnowledge wires the full engine from configuration: embed provider,
// chunker, vector backend, and optional reranker.
func buildKnowledge(configPath string) (*knowledge.Knowledge, func(), error) {
	var cfg *config.Config
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	tracing := observability.DefaultTracingConfig()
	tracing.OTLPEndpoint = cfg.Tracing.OTLPEndpoint
	tracing.Environment = cfg.Tracing.Environment
	tracing.SampleRate = cfg.Tracing.SampleRate
	tp, err := observability.InitTracing(context.Background(), tracing)
	if err != nil {
		return nil, nil, err
	}
	shutdownTracing := func() { _ = tp.Shutdown(context.Background()) }

	provider, err := buildProvider(cfg.Embedding)
	if err != nil {
		shutdownTracing()
		return nil, nil, err
	}
	gateway, err := embed.NewGateway(provider, &embed.Config{
		CacheSize: cfg.Embedding.CacheSize,
		Retry: &embed.RetryConfig{
			MaxRetries: cfg.Embedding.MaxRetries,
			RetryDelay: embed.DefaultRetryConfig().RetryDelay,
			MaxDelay:   embed.DefaultRetryConfig().MaxDelay,
			Timeout:    embed.DefaultRetryConfig().Timeout,
		},
	})
	if err != nil {
		shutdownTracing()
		return nil, nil, err
	}

	ch, err := chunker.New(chunker.Spec{
		Strategy:            chunker.Strategy(cfg.Chunker.Strategy),
		ChunkSize:           cfg.Chunker.ChunkSize,
		ChunkOverlap:        cfg.Chunker.ChunkOverlap,
		Tokenizer:           cfg.Chunker.Tokenizer,
		SimilarityThreshold: cfg.Chunker.SimilarityThreshold,
	}, gateway)
	if err != nil {
		gateway.Close()
		shutdownTracing()
		return nil, nil, err
	}

	repo, err := buildRepository(cfg, gateway.Dimensions())
	if err != nil {
		gateway.Close()
		shutdownTracing()
		return nil, nil, err
	}

	var reranker *rerank.Gateway
	if cfg.Rerank.Enabled {
		scorer := cohere.New(cfg.Rerank.APIKey, cfg.Rerank.Model, cfg.Rerank.BaseURL)
		reranker, err = rerank.NewGateway(scorer, nil, logger)
		if err != nil {
			gateway.Close()
			repo.Close()
			shutdownTracing()
			return nil, nil, err
		}
	}

	k, err := knowledge.New(knowledge.Params{
		Collection:      cfg.Collection,
		Repository:      repo,
		Embedder:        gateway,
		Chunker:         ch,
		Reranker:        reranker,
		OverFetchFactor: cfg.Vector.OverFetchFactor,
		Logger:          logger,
	})
	if err != nil {
		gateway.Close()
		repo.Close()
		shutdownTracing()
		return nil, nil, err
	}

	return k, func() {
		_ = k.Close()
		shutdownTracing()
	}, nil
}

func buildProvider(cfg config.EmbeddingConfig) (embed.Provider, error) {
	switch cfg.Provider {
	case "", "mock":
		return mock.New(cfg.Dimensions), nil
	case "openai":
		return openai.New(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

func buildRepository(cfg *config.Config, dims int) (vector.Repository, error) {
	switch cfg.Vector.Backend {
	case "", "local":
		return local.New(local.Config{
			Collection:      cfg.Vector.Collection,
			Dimensions:      dims,
			OverFetchFactor: cfg.Vector.OverFetchFactor,
			PersistPath:     cfg.Vector.PersistPath,
		})
	case "qdrant":
		return qdrant.New(context.Background(), qdrant.Config{
			Host:            cfg.Vector.Host,
			Port:            cfg.Vector.Port,
			Collection:      cfg.Vector.Collection,
			Dimensions:      dims,
			OverFetchFactor: cfg.Vector.OverFetchFactor,
		})
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Vector.Backend)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func parseMetadata(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	meta := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid metadata %q, expected key=value", p)
		}
		meta[k] = v
	}
	return meta, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	return s
}

type recordJSON struct {
	ID         string            `json:"id"`
	Text       string            `json:"text"`
	Source     string            `json:"source"`
	UserID     string            `json:"user_id,omitempty"`
	AgentID    string            `json:"agent_id,omitempty"`
	RunID      string            `json:"run_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	ChunkIndex int               `json:"chunk_index"`
	ChunkCount int               `json:"chunk_count"`
	CreatedAt  string            `json:"created_at"`
	UpdatedAt  string            `json:"updated_at"`
}

func recordView(r vector.Record) recordJSON {
	return recordJSON{
		ID:         r.ID,
		Text:       r.Text,
		Source:     r.Source,
		UserID:     r.Scope.UserID,
		AgentID:    r.Scope.AgentID,
		RunID:      r.Scope.RunID,
		Metadata:   r.Metadata,
		ChunkIndex: r.ChunkIndex,
		ChunkCount: r.ChunkCount,
		CreatedAt:  r.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:  r.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}
