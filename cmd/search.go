package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/quiltcore/unisearch/pkg/backend"
	"github.com/quiltcore/unisearch/pkg/config"
	"github.com/quiltcore/unisearch/pkg/query"
	"github.com/quiltcore/unisearch/pkg/search"
)

// SearchCommand creates the search command
func SearchCommand() *cli.Command {
	return &cli.Command{
		Name:  "search",
		Usage: "Search packages and objects across all configured backends",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "query",
				Aliases: []string{"q"},
				Usage:   "Search query (natural language or structured)",
			},
			&cli.StringFlag{
				Name:  "type",
				Usage: "Search type: packages, objects or unified",
				Value: "unified",
			},
			&cli.StringFlag{
				Name:  "bucket",
				Usage: "Restrict the search to one bucket",
			},
			&cli.StringSliceFlag{
				Name:  "buckets",
				Usage: "Restrict the search to several buckets",
			},
			&cli.StringSliceFlag{
				Name:  "backends",
				Usage: "Force a subset of backends (diagnostics)",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of results",
				Value: search.DefaultLimit,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Offset into the merged result sequence",
			},
			&cli.StringFlag{
				Name:  "cursor",
				Usage: "Continuation cursor from a previous search",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the raw JSON response",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return runSearch(ctx, c)
		},
	}
}

func runSearch(ctx context.Context, c *cli.Command) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	rt, cleanup, err := buildService(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	req := search.Request{
		Query:      c.String("query"),
		SearchType: c.String("type"),
		Backends:   c.StringSlice("backends"),
		Limit:      int(c.Int("limit")),
		Offset:     int(c.Int("offset")),
		Cursor:     c.String("cursor"),
		Filters: query.Filters{
			Bucket:  c.String("bucket"),
			Buckets: c.StringSlice("buckets"),
		},
	}

	resp, err := rt.service.Search(ctx, req)
	if err != nil {
		return err
	}

	if c.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	printResponse(resp)
	return nil
}

func printResponse(resp *search.Response) {
	p := message.NewPrinter(language.English)
	title := cases.Title(language.English)

	if len(resp.Hits) == 0 {
		if len(resp.BackendsFailed) > 0 {
			// Never present a degraded search as a clean zero-result one.
			fmt.Println("No results, but the search was degraded:")
			for _, f := range resp.BackendsFailed {
				fmt.Printf("  - %s: %s (%s)\n", f.Backend, f.Message, f.Kind)
			}
		} else {
			fmt.Println("No results found")
		}
		return
	}

	for i, hit := range resp.Hits {
		kind := title.String(string(hit.Kind))
		fmt.Printf("%d. [%s] s3://%s/%s", i+1, kind, hit.Bucket, hit.Identity)
		if hit.Kind == backend.KindPackage {
			fmt.Printf(" (via %s)", hit.Source)
		}
		fmt.Println()
		var details []string
		if hit.Score != nil {
			details = append(details, p.Sprintf("score %.2f", *hit.Score))
		}
		if hit.Size != nil {
			details = append(details, p.Sprintf("%d bytes", *hit.Size))
		}
		if hit.Modified != nil {
			details = append(details, hit.Modified.Format("2006-01-02 15:04"))
		}
		if len(details) > 0 {
			fmt.Printf("   %s\n", strings.Join(details, ", "))
		}
	}

	if resp.TotalEstimate != nil {
		p.Printf("\nShowing %d of an estimated %d results", len(resp.Hits), *resp.TotalEstimate)
	} else {
		p.Printf("\nShowing %d results", len(resp.Hits))
	}
	if resp.Truncated {
		fmt.Print(" (truncated)")
	}
	fmt.Printf("\nBackends: %s", strings.Join(resp.BackendsUsed, ", "))
	for _, f := range resp.BackendsFailed {
		fmt.Printf("\nDegraded: %s failed: %s (%s)", f.Backend, f.Message, f.Kind)
	}
	if resp.Cursor != "" {
		fmt.Printf("\nNext page: --cursor %s", resp.Cursor)
	}
	fmt.Println()
}
