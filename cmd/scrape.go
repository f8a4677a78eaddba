package cmd

import (
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Laza223/axxen-scraper-sub001/config"
	"github.com/Laza223/axxen-scraper-sub001/logging"
	"github.com/Laza223/axxen-scraper-sub001/models"
)

type scrapeFlags struct {
	keyword           string
	locations         []string
	maxResults        int
	strict            bool
	force             bool
	minQuality        int
	excludeFranchises bool
	out               string
	persist           bool
	workers           int
}

func (f *scrapeFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.keyword, "keyword", "k", "", "business keyword to search for (env CRAWL_KEYWORD)")
	fs.StringSliceVarP(&f.locations, "locations", "l", nil, "comma-separated locations (env CRAWL_LOCATIONS)")
	fs.IntVar(&f.maxResults, "max", 0, "maximum leads per location (env CRAWL_MAX_RESULTS)")
	fs.BoolVar(&f.strict, "strict", false, "drop leads that only loosely match the keyword")
	fs.BoolVar(&f.force, "force", false, "ignore cached results")
	fs.IntVar(&f.minQuality, "min-quality", 0, "minimum completeness score (0-100)")
	fs.BoolVar(&f.excludeFranchises, "exclude-franchises", false, "drop known franchise chains")
	fs.StringVarP(&f.out, "out", "o", "", "JSON output file (env CRAWL_OUT_FILE)")
	fs.BoolVar(&f.persist, "persist", false, "upsert leads into PostgreSQL (env DB_PERSIST)")
	fs.IntVarP(&f.workers, "workers", "w", 0, "locations crawled concurrently (env CRAWL_WORKERS)")
}

// apply overlays the flags the user actually set onto the env-derived config.
func (f *scrapeFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	fs := cmd.Flags()
	if fs.Changed("keyword") {
		cfg.Keyword = strings.TrimSpace(f.keyword)
	}
	if fs.Changed("locations") {
		cfg.Locations = nil
		for _, l := range f.locations {
			if l = strings.TrimSpace(l); l != "" {
				cfg.Locations = append(cfg.Locations, l)
			}
		}
	}
	if fs.Changed("max") {
		cfg.MaxResults = f.maxResults
	}
	if fs.Changed("out") {
		cfg.OutFile = f.out
	}
	if fs.Changed("persist") {
		cfg.Persist = f.persist
	}
	if fs.Changed("workers") {
		cfg.Workers = f.workers
	}
}

func (f *scrapeFlags) options(cfg config.Config) models.ScrapeOptions {
	return models.ScrapeOptions{
		Keyword:           cfg.Keyword,
		MaxResults:        cfg.MaxResults,
		StrictMatch:       f.strict,
		ForceRefresh:      f.force,
		MinQuality:        f.minQuality,
		ExcludeFranchises: f.excludeFranchises,
	}
}

func newScrapeCmd() *cobra.Command {
	f := &scrapeFlags{}
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Crawl leads for a keyword across locations",
		Example: `  leadcrawl scrape -k "restaurantes" -l "Palermo,Recoleta" --max 40
  leadcrawl scrape -k ferreterias -l "Provincia de Córdoba" --strict --persist`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewLoggerWithService("leadcrawl")
			config.LoadEnv(logger)

			cfg := config.Default()
			f.apply(cmd, &cfg)
			if cfg.Keyword == "" {
				return errors.New("a keyword is required (--keyword or CRAWL_KEYWORD)")
			}
			if len(cfg.Locations) == 0 {
				return errors.New("at least one location is required (--locations or CRAWL_LOCATIONS)")
			}
			if f.minQuality < 0 || f.minQuality > 100 {
				return errors.New("--min-quality must be between 0 and 100")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runScrape(ctx, cfg, f.options(cfg), cmd.OutOrStdout(), logger)
		},
	}
	f.register(cmd)
	return cmd
}
