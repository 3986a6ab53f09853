package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crawlmesh/crawlmesh/internal/store"
)

func newSubmitCmd() *cobra.Command {
	var (
		url          string
		standard     string
		maxDepth     int
		priority     int
		domainFilter string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Enqueue a crawl job",
		Long: `Creates a crawl job and seeds the frontier with its starting URL.
Either --url or --standard must be given; --standard names a template from
the standard_jobs config section.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSubmitCommand(cmd, url, standard, maxDepth, priority, domainFilter)
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "seed URL to crawl")
	cmd.Flags().StringVar(&standard, "standard", "", "name of a standard_jobs template to run")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "override the template/default max crawl depth")
	cmd.Flags().IntVar(&priority, "priority", 0, "override the template/default job priority")
	cmd.Flags().StringVar(&domainFilter, "domain-filter", "", "comma-separated list of allowed domains")

	return cmd
}

func runSubmitCommand(cmd *cobra.Command, url, standard string, maxDepth, priority int, domainFilterCSV string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	cfg := appInstance.Config

	var domainFilter []string
	if domainFilterCSV != "" {
		domainFilter = strings.Split(domainFilterCSV, ",")
	}

	if standard != "" {
		tmpl, ok := cfg.StandardJobs[standard]
		if !ok {
			return fmt.Errorf("standard job template %q not found", standard)
		}
		url = tmpl.URL
		if maxDepth == 0 {
			maxDepth = tmpl.MaxDepth
		}
		if len(domainFilter) == 0 {
			domainFilter = tmpl.DomainFilter
		}
		if priority == 0 {
			priority = tmpl.Priority
		}
	}
	if url == "" {
		return fmt.Errorf("--url or --standard is required")
	}
	if maxDepth <= 0 {
		maxDepth = cfg.Crawl.MaxDepth
	}
	if priority <= 0 {
		priority = 5
	}

	job := &store.CrawlJob{
		URL:          url,
		Status:       store.JobStatusInProgress,
		Priority:     priority,
		MaxDepth:     maxDepth,
		DomainFilter: domainFilter,
	}
	if err := appInstance.Store.CreateJob(ctx, job); err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	if _, err := appInstance.Frontier.Enqueue(ctx, url, "", 0, job.ID, priority); err != nil {
		return fmt.Errorf("seed frontier: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "submitted job %s (%s)\n", job.ID, url)
	return nil
}
