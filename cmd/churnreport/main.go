package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"churnboard/internal/config"
	"churnboard/internal/core"
	"churnboard/internal/services"
	"churnboard/internal/sheets/xlsx"
	"churnboard/internal/storage"
)

// exitErr carries a numeric exit code through the cobra error path.
type exitErr struct {
	code int
	msg  string
}

func (e *exitErr) Error() string { return e.msg }

func codeError(code int, format string, args ...any) error {
	return &exitErr{code: code, msg: fmt.Sprintf(format, args...)}
}

// summaryFlags holds the parsed flags for the summary command.
type summaryFlags struct {
	format     string
	status     string
	reason     string
	name       string
	from       string
	to         string
	locations  []string
	categories []string
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		var ee *exitErr
		if errors.As(err, &ee) {
			fmt.Fprintln(os.Stderr, "Error:", ee.msg)
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var (
		dir   string
		sheet string
		order string
		flags summaryFlags
	)
	defaults := config.Load()

	root := &cobra.Command{
		Use:           "churnreport",
		Short:         "Summarize stored customer activity workbooks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dir, "dir", defaults.UploadDir, "Upload directory")
	root.PersistentFlags().StringVar(&sheet, "sheet", defaults.SheetName, "Preferred worksheet name")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored uploads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(dir, defaults.UploadExtensions)
			if err != nil {
				return err
			}
			files, err := store.List(order)
			if err != nil {
				return codeError(1, "listing %s: %s", dir, err)
			}
			renderList(out, files)
			return nil
		},
	}
	listCmd.Flags().StringVar(&order, "sort", storage.SortNewest, "Sort order: newest or oldest")

	summaryCmd := &cobra.Command{
		Use:   "summary <stored-file>",
		Short: "Print the report of a stored upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.format != "json" && flags.format != "md" {
				return codeError(2, "invalid --format %q: must be json or md", flags.format)
			}
			p, err := flags.predicate()
			if err != nil {
				return codeError(2, "%s", err)
			}
			store, err := openStore(dir, defaults.UploadExtensions)
			if err != nil {
				return err
			}
			reports := services.NewReportService(store, xlsx.New(sheet), 1, 0)
			report, err := reports.Build(cmd.Context(), args[0], p)
			switch {
			case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrInvalidName):
				return codeError(2, "%s", err)
			case err != nil:
				return codeError(1, "%s", err)
			}
			if flags.format == "md" {
				return renderMarkdown(out, report)
			}
			return renderJSON(out, report)
		},
	}
	f := summaryCmd.Flags()
	f.StringVar(&flags.format, "format", "json", "Output format: json or md")
	f.StringVar(&flags.status, "status", core.All, "Only records with this status")
	f.StringVar(&flags.reason, "reason", core.All, "Only records with this reason")
	f.StringVar(&flags.name, "name", "", "Case-insensitive customer name substring")
	f.StringVar(&flags.from, "from", "", "First submission date (YYYY-MM-DD)")
	f.StringVar(&flags.to, "to", "", "Last submission date (YYYY-MM-DD)")
	f.StringSliceVar(&flags.locations, "location", nil, "Only these locations (may be repeated)")
	f.StringSliceVar(&flags.categories, "category", nil, "Only these categories (may be repeated)")

	root.AddCommand(listCmd, summaryCmd)
	root.SetOut(out)
	root.SetContext(context.Background())
	return root
}

func openStore(dir string, extensions []string) (*storage.UploadStore, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, codeError(2, "upload directory %s: %s", dir, err)
	}
	store, err := storage.NewUploadStore(dir, extensions)
	if err != nil {
		return nil, codeError(1, "opening %s: %s", dir, err)
	}
	return store, nil
}

func (f summaryFlags) predicate() (core.Predicate, error) {
	p := core.Predicate{
		Status:     strings.TrimSpace(f.status),
		Reason:     strings.TrimSpace(f.reason),
		Name:       strings.TrimSpace(f.name),
		Locations:  f.locations,
		Categories: f.categories,
	}
	var err error
	if p.Start, err = parseDateFlag("from", f.from); err != nil {
		return p, err
	}
	if p.End, err = parseDateFlag("to", f.to); err != nil {
		return p, err
	}
	return p, nil
}

func parseDateFlag(name, v string) (core.NullDate, error) {
	if strings.TrimSpace(v) == "" {
		return core.NullDate{}, nil
	}
	d := core.ParseDate(v)
	if !d.Valid {
		return d, fmt.Errorf("invalid --%s %q: expected YYYY-MM-DD", name, v)
	}
	return d, nil
}
