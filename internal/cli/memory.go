package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Beereal295/echo-memory/internal/config"
	"github.com/Beereal295/echo-memory/internal/engine"
	"github.com/Beereal295/echo-memory/internal/llm"
	"github.com/Beereal295/echo-memory/internal/store"
)

// openCLI opens the database and builds a one-shot engine for CLI
// commands. The embedder is always TF-IDF here; Ollama detection is
// server-side only.
func openCLI() (*store.DB, *engine.Engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, nil, err
		}
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}

	judge, err := llm.NewClient(cfg.LLM)
	if err != nil {
		judge = nil
	}
	eng := engine.New(db, judge, cfg)

	if emb, err := engine.NewTFIDFEmbedder(db, 512); err == nil {
		eng.SetEmbedder(emb)
	}
	return db, eng, nil
}

func init() {
	extractCmd.Flags().StringVar(&extractSource, "source", "conversation", "Source type: conversation or entry")
	extractCmd.Flags().StringVar(&extractSourceID, "source-id", "", "Identifier of the source conversation or entry")

	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "Maximum number of results")
	contextCmd.Flags().IntVarP(&contextLimit, "limit", "n", 5, "Maximum number of memories")
	unratedCmd.Flags().IntVarP(&unratedLimit, "limit", "n", 50, "Maximum number of memories")
	batchCmd.Flags().IntVarP(&batchLimit, "limit", "n", 20, "Maximum memories to score")
}

// --- extract command ---

var (
	extractSource   string
	extractSourceID string
)

var extractCmd = &cobra.Command{
	Use:   "extract [text]",
	Short: "Extract and store memories from text",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runExtract,
}

func runExtract(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")

	db, eng, err := openCLI()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ids, err := eng.ExtractAndStore(ctx, text, extractSource, extractSourceID)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}

	// One-shot process: embed synchronously before exiting.
	if _, err := eng.EmbedMissing(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: embed: %v\n", err)
	}

	if len(ids) == 0 {
		fmt.Println("No memories extracted.")
		return nil
	}
	fmt.Printf("Stored %d memories:\n", len(ids))
	for _, id := range ids {
		m, err := db.GetByID(id)
		if err != nil || m == nil {
			continue
		}
		fmt.Printf("  %s [%s, %.1f] %s\n", m.ID, m.MemoryType, m.FinalScore, m.Content)
	}
	return nil
}

// --- search command ---

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search memories",
	Long:  "Search active memories by vector similarity, weighted by stored importance.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	db, eng, err := openCLI()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	results, err := eng.Retrieve(ctx, query, searchLimit)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}
	for i, r := range results {
		fmt.Printf("%d. [%.3f] %s\n", i+1, r.Combined, r.Content)
		fmt.Printf("   %s  importance %.1f  similarity %.3f\n", r.MemoryType, r.FinalScore, r.Similarity)
	}
	return nil
}

// --- context command ---

var contextLimit int

var contextCmd = &cobra.Command{
	Use:   "context [query]",
	Short: "Render relevant memories as a prompt context block",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runContext,
}

func runContext(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	db, eng, err := openCLI()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	results, err := eng.Retrieve(ctx, query, contextLimit)
	if err != nil {
		return fmt.Errorf("retrieve: %w", err)
	}

	out := engine.FormatForContext(results)
	if out == "" {
		fmt.Println("No relevant memories.")
		return nil
	}
	fmt.Print(out)
	return nil
}

// --- unrated command ---

var unratedLimit int

var unratedCmd = &cobra.Command{
	Use:   "unrated",
	Short: "List memories awaiting a user rating",
	RunE:  runUnrated,
}

func runUnrated(cmd *cobra.Command, args []string) error {
	db, eng, err := openCLI()
	if err != nil {
		return err
	}
	defer db.Close()

	memories, err := eng.Unrated(unratedLimit)
	if err != nil {
		return fmt.Errorf("list unrated: %w", err)
	}

	if len(memories) == 0 {
		fmt.Println("No unrated memories.")
		return nil
	}
	for _, m := range memories {
		fmt.Printf("%s [%s, effective %.2f] %s\n", m.ID, m.MemoryType, m.Effective, m.Content)
	}
	return nil
}

// --- rate command ---

var rateCmd = &cobra.Command{
	Use:   "rate [id] [adjustment]",
	Short: "Apply a user importance adjustment in [-3, 3]",
	Args:  cobra.ExactArgs(2),
	RunE:  runRate,
}

func runRate(cmd *cobra.Command, args []string) error {
	adjustment, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("adjustment must be an integer: %w", err)
	}

	db, eng, err := openCLI()
	if err != nil {
		return err
	}
	defer db.Close()

	ok, err := eng.Rate(args[0], adjustment)
	if err != nil {
		return fmt.Errorf("rate: %w", err)
	}
	if !ok {
		return fmt.Errorf("memory %s not found or not active", args[0])
	}

	m, err := db.GetByID(args[0])
	if err != nil || m == nil {
		return fmt.Errorf("read back rated memory: %v", err)
	}
	fmt.Printf("Rated %s: final score %.1f\n", m.ID, m.FinalScore)
	return nil
}

// --- rescue command ---

var rescueCmd = &cobra.Command{
	Use:   "rescue [id]",
	Short: "Pull a memory out of the deletion pipeline",
	Args:  cobra.ExactArgs(1),
	RunE:  runRescue,
}

func runRescue(cmd *cobra.Command, args []string) error {
	db, eng, err := openCLI()
	if err != nil {
		return err
	}
	defer db.Close()

	ok, err := eng.Rescue(args[0])
	if err != nil {
		return fmt.Errorf("rescue: %w", err)
	}
	if !ok {
		return fmt.Errorf("memory %s not found or not in the deletion pipeline", args[0])
	}
	fmt.Printf("Rescued %s back to active.\n", args[0])
	return nil
}

// --- batch command ---

var batchLimit int

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run one LLM re-scoring batch now",
	RunE:  runBatch,
}

func runBatch(cmd *cobra.Command, args []string) error {
	db, eng, err := openCLI()
	if err != nil {
		return err
	}
	defer db.Close()

	if eng.Judge == nil {
		return fmt.Errorf("no judge configured; set llm.provider in config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	n, err := eng.ProcessBatch(ctx, batchLimit)
	if err != nil {
		return fmt.Errorf("batch: %w", err)
	}
	fmt.Printf("Scored %d memories.\n", n)
	return nil
}

// --- sweep command ---

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one pruning sweep now",
	RunE:  runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	db, eng, err := openCLI()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	res, err := eng.RunPruningSweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	fmt.Printf("Sweep: marked %d, archived %d, deleted %d.\n", res.Marked, res.Archived, res.Deleted)
	return nil
}

// --- stats command ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show memory statistics",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	db, eng, err := openCLI()
	if err != nil {
		return err
	}
	defer db.Close()

	st, err := eng.Stats()
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}

	fmt.Printf("Active memories: %d (%d unrated)\n", st.Total, st.UnratedCount)
	if len(st.ByType) > 0 {
		fmt.Println("By type:")
		for _, t := range []string{"factual", "preference", "behavioral", "relational", "contextual"} {
			if n := st.ByType[t]; n > 0 {
				fmt.Printf("  %-11s %d\n", t, n)
			}
		}
	}
	if len(st.ByScoreSource) > 0 {
		fmt.Println("By score source:")
		for _, s := range []string{"rule", "llm", "user_modified"} {
			if n := st.ByScoreSource[s]; n > 0 {
				fmt.Printf("  %-14s %d\n", s, n)
			}
		}
	}
	if len(st.MostAccessed) > 0 {
		fmt.Println("Most accessed:")
		for _, ma := range st.MostAccessed {
			fmt.Printf("  %3d  %s\n", ma.AccessCount, ma.Content)
		}
	}
	return nil
}
