package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/JakeFAU/vision2struct/internal/adapter"
	"github.com/JakeFAU/vision2struct/internal/tui"
)

type scrapeOptions struct {
	keyword string
	limit   string
	stay    bool
	plain   bool
}

func newScrapeCmd() *cobra.Command {
	var opts scrapeOptions
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Submit a scrape job and follow its progress",
		Example: `  vision2struct scrape --keyword "red shoes" --limit 5
  vision2struct scrape --keyword boots --limit 3 --plain`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScrape(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.keyword, "keyword", "k", "", "search keyword")
	cmd.Flags().StringVarP(&opts.limit, "limit", "n", "", "number of images to collect")
	cmd.Flags().BoolVar(&opts.stay, "stay", false, "keep the terminal view open after completion")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "print one line per update instead of the interactive view")
	return cmd
}

func runScrape(cmd *cobra.Command, opts scrapeOptions) error {
	s, err := sessionFrom(cmd.Context())
	if err != nil {
		return err
	}
	jc := adapter.HTTPJobClient{Client: s.client}
	logger := s.logger.Named("adapter")

	if !opts.plain && isTerminal(cmd) {
		return tui.Run(cmd.Context(), jc, tui.Options{
			Keyword:     opts.keyword,
			Limit:       opts.limit,
			Stay:        opts.stay,
			ReloadDelay: s.cfg.Client.ReloadDelay,
			Logger:      logger,
		})
	}

	view := tui.NewPlainView(cmd.OutOrStdout(), cmd.ErrOrStderr())
	a := adapter.New(jc, view,
		adapter.WithReloadDelay(s.cfg.Client.ReloadDelay),
		adapter.WithLogger(logger),
	)
	if err := a.Activate(cmd.Context(), opts.keyword, opts.limit); err != nil {
		var verr *adapter.ValidationError
		if errors.As(err, &verr) {
			return verr
		}
		return err
	}
	select {
	case <-view.Reloaded():
	case <-cmd.Context().Done():
	}
	return nil
}

func isTerminal(cmd *cobra.Command) bool {
	f, ok := cmd.OutOrStdout().(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
