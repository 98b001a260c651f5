package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"

	"github.com/JohanCodinha/reportsync/internal/md"
	"github.com/JohanCodinha/reportsync/internal/platform"
	"github.com/JohanCodinha/reportsync/internal/store"
	"github.com/JohanCodinha/reportsync/internal/sync"
)

type addOptions struct {
	from        string
	title       string
	description string
	category    string
	severity    string
	address     string
	latitude    float64
	longitude   float64
	user        string
	photos      []string
}

func newAddCmd(root *rootOptions) *cobra.Command {
	opts := &addOptions{}
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Queue a new report",
		Long: `Queue a report for later submission. Fields come from flags, from a
markdown draft (--from) or both; flags win. Photos named in the draft are
resolved relative to the draft file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(root, platform.Noop{})
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := buildReport(opts)
			if err != nil {
				return err
			}
			id, err := a.store.Save(cmd.Context(), report)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued report %s\n", id)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.from, "from", "", "markdown draft with YAML frontmatter")
	f.StringVar(&opts.title, "title", "", "report title (10-100 characters)")
	f.StringVar(&opts.description, "description", "", "report description (20-1000 characters)")
	f.StringVar(&opts.category, "category", "", "category, e.g. pothole, streetlight, drainage")
	f.StringVar(&opts.severity, "severity", "medium", "severity")
	f.StringVar(&opts.address, "address", "", "street address, geocoded at sync time")
	f.Float64Var(&opts.latitude, "lat", 0, "latitude")
	f.Float64Var(&opts.longitude, "lng", 0, "longitude")
	f.StringVar(&opts.user, "user", "", "author user id (defaults to the offline placeholder)")
	f.StringSliceVar(&opts.photos, "photo", nil, "photo file to attach (repeatable)")
	return cmd
}

// buildReport merges the draft, if any, with the flag values.
func buildReport(opts *addOptions) (store.NewReport, error) {
	var report store.NewReport
	var photoPaths []string

	if opts.from != "" {
		content, err := os.ReadFile(opts.from)
		if err != nil {
			return report, fmt.Errorf("failed to read draft: %w", err)
		}
		draft, err := md.Parse(string(content))
		if err != nil {
			return report, fmt.Errorf("failed to parse draft %s: %w", opts.from, err)
		}
		report.Issue = draft.Issue
		report.UserID = draft.UserID
		dir := filepath.Dir(opts.from)
		for _, name := range draft.PhotoFiles {
			if !filepath.IsAbs(name) {
				name = filepath.Join(dir, name)
			}
			photoPaths = append(photoPaths, name)
		}
	}

	setIf(&report.Issue.Title, opts.title)
	setIf(&report.Issue.Description, opts.description)
	setIf(&report.Issue.Category, opts.category)
	setIf(&report.Issue.Address, opts.address)
	setIf(&report.UserID, opts.user)
	if report.Issue.Severity == "" {
		report.Issue.Severity = opts.severity
	}
	if opts.latitude != 0 || opts.longitude != 0 {
		report.Issue.Latitude = opts.latitude
		report.Issue.Longitude = opts.longitude
	}
	if report.Issue.Title == "" {
		return report, errors.New("a title is required (--title or a draft)")
	}
	if report.Issue.Category == "" {
		report.Issue.Category = "other"
	}

	photos, err := loadPhotos(append(photoPaths, opts.photos...))
	if err != nil {
		return report, err
	}
	report.Photos = photos
	return report, nil
}

func setIf(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

// loadPhotos reads each file and detects its type from content.
func loadPhotos(paths []string) ([]store.Photo, error) {
	var photos []store.Photo
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read photo: %w", err)
		}
		mt := mimetype.Detect(data)
		if !strings.HasPrefix(mt.String(), "image/") {
			return nil, fmt.Errorf("%s is not an image (%s)", path, mt.String())
		}
		photos = append(photos, store.Photo{Filename: filepath.Base(path), MimeType: mt.String(), Data: data})
	}
	return photos, nil
}

func newListCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List queued reports",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(root, platform.Noop{})
			if err != nil {
				return err
			}
			defer a.Close()

			reports, err := a.engine.PendingReports(cmd.Context())
			if err != nil {
				return err
			}
			printReports(cmd.OutOrStdout(), reports, time.Now())
			return nil
		},
	}
}

func printReports(w io.Writer, reports []store.Report, now time.Time) {
	if len(reports) == 0 {
		fmt.Fprintln(w, "no queued reports")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tATTEMPTS\tQUEUED\tPHOTOS\tTITLE")
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%s\t%s\n",
			shortID(r.ID),
			r.SyncStatus,
			r.SyncAttempts, sync.MaxSyncAttempts,
			humanize.RelTime(r.CreatedAt, now, "ago", "from now"),
			humanize.Bytes(uint64(r.PhotoBytes())),
			truncate(r.Issue.Title, 40),
		)
	}
	tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// resolveID accepts a full id or a unique prefix as printed by list.
func resolveID(a *app, cmd *cobra.Command, prefix string) (string, error) {
	reports, err := a.engine.PendingReports(cmd.Context())
	if err != nil {
		return "", err
	}
	var match string
	for _, r := range reports {
		if r.ID == prefix {
			return r.ID, nil
		}
		if strings.HasPrefix(r.ID, prefix) {
			if match != "" {
				return "", fmt.Errorf("id prefix %q is ambiguous", prefix)
			}
			match = r.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("no queued report matches %q", prefix)
	}
	return match, nil
}

func newShowCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a queued report as markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(root, platform.Noop{})
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := resolveID(a, cmd, args[0])
			if err != nil {
				return err
			}
			r, err := a.store.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			out, err := md.FormatReport(r)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func newStatusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarize the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(root, platform.Noop{})
			if err != nil {
				return err
			}
			defer a.Close()

			reports, err := a.engine.PendingReports(cmd.Context())
			if err != nil {
				return err
			}
			eligible, err := a.engine.PendingCount(cmd.Context())
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), reports, eligible)
			return nil
		},
	}
}

func printStatus(w io.Writer, reports []store.Report, eligible int) {
	byStatus := map[store.Status]int{}
	total := 0
	for _, r := range reports {
		byStatus[r.SyncStatus]++
		total += r.PhotoBytes()
	}
	fmt.Fprintf(w, "queued:   %d (%s of photos)\n", len(reports), humanize.Bytes(uint64(total)))
	fmt.Fprintf(w, "eligible: %d\n", eligible)
	for _, s := range []store.Status{store.StatusPending, store.StatusSyncing, store.StatusFailed} {
		if n := byStatus[s]; n > 0 {
			fmt.Fprintf(w, "  %-8s %d\n", s, n)
		}
	}
}

func printResults(w io.Writer, results []sync.Result) {
	if len(results) == 0 {
		fmt.Fprintln(w, "nothing to sync")
		return
	}
	synced := 0
	for _, r := range results {
		fmt.Fprintln(w, formatResult(r))
		if r.Success {
			synced++
		}
	}
	fmt.Fprintf(w, "%d synced, %d failed\n", synced, len(results)-synced)
}

func formatResult(r sync.Result) string {
	switch {
	case r.Success:
		return fmt.Sprintf("%s  synced as %s", shortID(r.ReportID), r.RemoteID)
	case r.WillRetry:
		return fmt.Sprintf("%s  attempt %d/%d failed, will retry: %s", shortID(r.ReportID), r.Attempt, sync.MaxSyncAttempts, r.Error)
	case r.Attempt >= sync.MaxSyncAttempts:
		return fmt.Sprintf("%s  gave up after %d attempts: %s", shortID(r.ReportID), r.Attempt, r.Error)
	default:
		return fmt.Sprintf("%s  not synced: %s", shortID(r.ReportID), r.Error)
	}
}

func newSyncCmd(root *rootOptions) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync every eligible report now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(root, platform.Noop{})
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.engine.Recover(cmd.Context(), sync.StaleClaimAge); err != nil {
				fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			}
			if !a.monitor.Online(cmd.Context()) {
				fmt.Fprintln(cmd.OutOrStdout(), "offline: reports stay queued")
				return nil
			}
			results, err := a.engine.SyncPendingReports(cmd.Context(), a.userOr(user))
			if err != nil {
				return err
			}
			printResults(cmd.OutOrStdout(), results)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id to submit offline reports under")
	return cmd
}

func newRetryCmd(root *rootOptions) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "retry <id>",
		Short: "Sync one report now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(root, platform.Noop{})
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := resolveID(a, cmd, args[0])
			if err != nil {
				return err
			}
			res := a.engine.SyncSingleReport(cmd.Context(), id, a.userOr(user))
			fmt.Fprintln(cmd.OutOrStdout(), formatResult(res))
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id to submit an offline report under")
	return cmd
}

func newRetryFailedCmd(root *rootOptions) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "retry-failed",
		Short: "Retry every report that has failed at least once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(root, platform.Noop{})
			if err != nil {
				return err
			}
			defer a.Close()

			results, err := a.engine.RetryFailedReports(cmd.Context(), a.userOr(user))
			if err != nil {
				return err
			}
			printResults(cmd.OutOrStdout(), results)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id to submit offline reports under")
	return cmd
}

func newLinkCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "link <user-id>",
		Short: "Assign offline-authored reports to a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(root, platform.Noop{})
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.engine.LinkOfflineReports(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "linked %d reports to %s\n", n, args[0])
			return nil
		},
	}
}

func newClearCmd(root *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every queued report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to clear the queue without --yes")
			}
			a, err := openApp(root, platform.Noop{})
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.engine.ClearAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d reports\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}
