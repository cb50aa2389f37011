package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"termcal/internal/config"
	"termcal/internal/ics"
	"termcal/internal/importer"
	appLog "termcal/internal/log"
	"termcal/internal/model"
	"termcal/internal/refresh"
	"termcal/internal/sheet"
	"termcal/internal/templates"
	"termcal/internal/validate"
)

var errInvalidCalendar = errors.New("calendar has errors")

var validateCmd = &cobra.Command{
	Use:   "validate <calendar|id>",
	Short: "Check a calendar (.json, .ics, .xlsx or a configured id) and print its diagnostics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		registry, err := templates.Open(cfg.TemplatesPath)
		if err != nil {
			return err
		}
		src, err := resolveSource(cfg, args[0])
		if err != nil {
			return err
		}
		cal, importWarnings, err := refresh.LoadSource(src, registry)
		if err != nil {
			return err
		}

		res := validate.Validate(cal)
		out := cmd.OutOrStdout()
		for _, e := range res.Errors {
			fmt.Fprintf(out, "error: %s\n", e)
		}
		printWarnings(out, append(importWarnings, res.Warnings...))
		if !res.OK() {
			return errInvalidCalendar
		}
		fmt.Fprintf(out, "ok: %d terms, %d courses\n", len(cal.Terms), cal.CourseCount())
		return nil
	},
}

var generateOut string

var generateCmd = &cobra.Command{
	Use:   "generate <calendar|id>",
	Short: "Export a calendar (.json, .ics, .xlsx or a configured id) as an iCalendar feed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		registry, err := templates.Open(cfg.TemplatesPath)
		if err != nil {
			return err
		}
		src, err := resolveSource(cfg, args[0])
		if err != nil {
			return err
		}
		cal, importWarnings, err := refresh.LoadSource(src, registry)
		if err != nil {
			return err
		}

		res, err := ics.Generate(cal, ics.GenerateOptions{
			Namespace: cfg.Namespace,
			Domain:    cfg.UIDDomain,
			MaxDays:   cfg.MaxDays,
			TZID:      cfg.Timezone,
			Stamp:     time.Now(),
		})
		var verr *ics.ValidationError
		if errors.As(err, &verr) {
			for _, e := range verr.Errors {
				fmt.Fprintf(cmd.ErrOrStderr(), "error: %s\n", e)
			}
			return errInvalidCalendar
		}
		if err != nil {
			return err
		}
		printWarnings(cmd.ErrOrStderr(), append(importWarnings, res.Warnings...))
		return writeOutput(cmd, generateOut, []byte(res.Feed))
	},
}

var (
	importFeedURL string
	importFeedOut string
)

var importFeedCmd = &cobra.Command{
	Use:   "import-feed [feed.ics]",
	Short: "Recover the calendar embedded in an exported feed, from a file or --url",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var body []byte
		switch {
		case importFeedURL != "" && len(args) == 0:
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			res, err := ics.NewFetcher(cfg.CacheDir).Fetch(cmd.Context(), importFeedURL)
			if err != nil {
				return err
			}
			body = res.Body
		case importFeedURL == "" && len(args) == 1:
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			body = data
		default:
			return errors.New("give either a feed file or --url, not both")
		}

		cal, err := ics.ImportFeed(body)
		if err != nil {
			return err
		}
		return writeJSONOutput(cmd, importFeedOut, cal)
	},
}

var importSheetOut string

var importSheetCmd = &cobra.Command{
	Use:   "import-sheet <export.xlsx>",
	Short: "Rebuild a calendar from a registrar course spreadsheet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		registry, err := templates.Open(cfg.TemplatesPath)
		if err != nil {
			return err
		}

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		grid, err := sheet.ReadGrid(f)
		if err != nil {
			return err
		}
		res, err := importer.Import(grid, registry)
		if err != nil {
			return err
		}
		printWarnings(cmd.ErrOrStderr(), res.Warnings)
		return writeJSONOutput(cmd, importSheetOut, res.Calendar)
	},
}

func init() {
	generateCmd.Flags().StringVarP(&generateOut, "output", "o", "", "write the feed here instead of stdout")
	importFeedCmd.Flags().StringVar(&importFeedURL, "url", "", "fetch the feed from this URL")
	importFeedCmd.Flags().StringVarP(&importFeedOut, "output", "o", "", "write the calendar JSON here instead of stdout")
	importSheetCmd.Flags().StringVarP(&importSheetOut, "output", "o", "", "write the calendar JSON here instead of stdout")

	rootCmd.AddCommand(validateCmd, generateCmd, importFeedCmd, importSheetCmd)
}

// resolveSource maps a command argument to a calendar file. An existing
// path wins; otherwise arg is looked up among the configured calendars.
func resolveSource(cfg *config.Config, arg string) (config.CalendarSource, error) {
	_, statErr := os.Stat(arg)
	if statErr == nil {
		return config.CalendarSource{ID: arg, Path: arg}, nil
	}
	if src, ok := cfg.Source(arg); ok {
		appLog.Debug("using configured calendar", "id", src.ID, "path", src.Path)
		return src, nil
	}
	return config.CalendarSource{}, fmt.Errorf("%s is neither a readable file nor a configured calendar id: %w", arg, statErr)
}

func printWarnings(w io.Writer, warnings []model.Warning) {
	for _, wn := range warnings {
		fmt.Fprintf(w, "warning: %s %s\n", wn.Title, wn.Message)
	}
}

func writeJSONOutput(cmd *cobra.Command, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeOutput(cmd, path, append(data, '\n'))
}

func writeOutput(cmd *cobra.Command, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
