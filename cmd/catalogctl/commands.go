package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/asklokesh/next-portal/catalog/internal/catalog"
	"github.com/asklokesh/next-portal/catalog/internal/config"
	"github.com/asklokesh/next-portal/catalog/pkg/collector"
	"github.com/asklokesh/next-portal/catalog/pkg/common"
	"github.com/asklokesh/next-portal/catalog/pkg/logger"
	"github.com/asklokesh/next-portal/catalog/pkg/logger/console"
	"github.com/asklokesh/next-portal/catalog/pkg/query"
	"github.com/asklokesh/next-portal/catalog/pkg/store"
	"github.com/asklokesh/next-portal/catalog/pkg/store/memory"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type rootOptions struct {
	catalogPath string
	debug       bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "catalogctl",
		Short:         "Search and infer relationships over a software catalog file",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
				Debug:  opts.debug,
				Output: cmd.ErrOrStderr(),
			}))
		},
	}
	root.PersistentFlags().StringVarP(&opts.catalogPath, "catalog", "c", "catalog.yaml", "catalog file (.json, .yaml or .yml)")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	root.AddCommand(newSearchCmd(opts), newInferCmd(opts), newAnalyzeCmd())
	return root
}

func newSearchCmd(root *rootOptions) *cobra.Command {
	var (
		types   []string
		depth   int
		limit   int
		offset  int
		reverse bool
		seeds   []string
	)
	cmd := &cobra.Command{
		Use:   "search [text...]",
		Short: "Run a catalog search and print the response as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := loadCatalog(ctx, root.catalogPath)
			if err != nil {
				return err
			}
			client, err := catalog.NewSearchClient(config.Search{}, st)
			if err != nil {
				return err
			}

			q := query.SearchQuery{
				Text:   strings.Join(args, " "),
				Offset: offset,
				Limit:  limit,
				Traversal: query.TraversalOptions{
					MaxDepth:       depth,
					IncludeReverse: reverse,
					SeedIDs:        seeds,
				},
			}
			for _, t := range types {
				q.SearchTypes = append(q.SearchTypes, query.SearchType(t))
			}
			return writeJSON(cmd.OutOrStdout(), client.Search(ctx, q))
		},
	}
	cmd.Flags().StringSliceVarP(&types, "types", "t", nil, "search types, e.g. entity_name,graph_traversal")
	cmd.Flags().IntVarP(&depth, "depth", "d", 0, "traversal depth")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	cmd.Flags().BoolVar(&reverse, "reverse", false, "also follow incoming relationships")
	cmd.Flags().StringSliceVar(&seeds, "seed", nil, "entity ids to start the traversal from")
	return cmd
}

func newInferCmd(root *rootOptions) *cobra.Command {
	var (
		threshold float64
		manifests string
	)
	cmd := &cobra.Command{
		Use:   "infer",
		Short: "Infer relationships between the catalog entities and print them as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := loadCatalog(ctx, root.catalogPath)
			if err != nil {
				return err
			}

			var sources []collector.ManifestSource
			if manifests != "" {
				m, err := loadManifests(manifests)
				if err != nil {
					return err
				}
				sources = append(sources, m)
			}
			detectors, err := catalog.Detectors(ctx, config.Config{}, sources...)
			if err != nil {
				return err
			}
			client, err := catalog.NewGraphClient(config.Inference{ConfidenceThreshold: threshold}, st, detectors)
			if err != nil {
				return err
			}

			entities, err := st.ListEntities(ctx, false)
			if err != nil {
				return err
			}
			results, err := client.InferRelationships(ctx, entities)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"count":         len(results),
				"relationships": results,
			})
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", 60, "minimum confidence (0-100)")
	cmd.Flags().StringVarP(&manifests, "manifests", "m", "", "directory of Kubernetes or docker-compose manifests")
	return cmd
}

func newAnalyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze [text...]",
		Short: "Show how a search text is tokenised and classified",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := query.NewAnalyzer().Analyze(query.SearchQuery{Text: strings.Join(args, " ")})
			return writeJSON(cmd.OutOrStdout(), a)
		},
	}
}

// loadCatalog reads a common.Graph from path into a fresh memory store.
func loadCatalog(ctx context.Context, path string) (*memory.MemoryStorage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var g common.Graph
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &g)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &g)
	default:
		return nil, fmt.Errorf("unsupported catalog format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}

	st := memory.New()
	if err := store.ImportGraph(ctx, st, g, 0); err != nil {
		return nil, fmt.Errorf("import catalog: %w", err)
	}
	logger.Debug("Catalog loaded", "entities", len(g.Entities), "relationships", len(g.Relationships))
	return st, nil
}

func loadManifests(dir string) (collector.StaticManifests, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read manifests: %w", err)
	}
	var out collector.StaticManifests
	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read manifest %s: %w", path, err)
		}
		out = append(out, collector.Manifest{Name: path, Data: data})
	}
	return out, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
