package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gastos/internal/backup"
	"gastos/internal/cli"
	"gastos/internal/core"
	"gastos/internal/log"
)

const conflictAsk = "ask"

func newExportCommand(opts Options) *cobra.Command {
	var photos bool
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a backup of every expense and category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *cli.App) error {
				return runExport(ctx, app, cmd.OutOrStdout(), photos, out)
			})
		},
	}

	cmd.Flags().BoolVar(&photos, "photos", false, "package a zip with data.json, gastos.csv and referenced photos")
	cmd.Flags().StringVar(&out, "out", "", "copy the backup to this file or directory")

	return cmd
}

func runExport(ctx context.Context, app *cli.App, w io.Writer, photos bool, out string) error {
	res, err := app.Backups.Export(ctx, photos)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}

	dest := res.Path
	if out != "" {
		if info, err := os.Stat(out); err == nil && info.IsDir() {
			out = filepath.Join(out, filepath.Base(res.Path))
		}
		if err := copyFile(ctx, app, res.Path, out); err != nil {
			return err
		}
		if err := os.Remove(res.Path); err != nil {
			app.Logger.Warn("Failed to remove cached export", log.FieldFile, res.Path, log.FieldError, err.Error())
		}
		dest = out
	}

	fmt.Fprintf(w, "Exported %d expenses and %d categories to %s\n", res.Expenses, res.Categories, dest)
	if photos {
		fmt.Fprintf(w, "Photos: %d packaged, %d missing\n", res.Photos, res.SkippedPhotos)
	}
	return nil
}

func copyFile(ctx context.Context, app *cli.App, src, dst string) error {
	in, err := app.Files.OpenForRead(ctx, src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := app.Files.OpenForWrite(ctx, dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy backup to %s: %w", dst, err)
	}
	return out.Close()
}

func newImportCommand(opts Options) *cobra.Command {
	var replaceAll bool
	var onConflict string

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Merge a backup into the record store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var policy backup.Decision
			if onConflict == conflictAsk {
				if !opts.IsTerminal(cmd.InOrStdin()) {
					return errors.New("--on-conflict ask needs a terminal; pass discard, replace or duplicate")
				}
			} else {
				d, err := backup.ParseDecision(onConflict)
				if err != nil {
					return fmt.Errorf("--on-conflict: %w", err)
				}
				policy = d
			}

			return withApp(cmd, opts, func(ctx context.Context, app *cli.App) error {
				return runImport(ctx, app, cmd.InOrStdin(), cmd.OutOrStdout(), args[0], replaceAll, policy)
			})
		},
	}

	cmd.Flags().BoolVar(&replaceAll, "replace-all", false, "delete every stored expense before importing")
	cmd.Flags().StringVar(&onConflict, "on-conflict", conflictAsk, "ask, discard, replace or duplicate")

	return cmd
}

// runImport imports file and settles its conflicts. A zero policy asks for
// each conflict on in.
func runImport(ctx context.Context, app *cli.App, in io.Reader, w io.Writer, file string, replaceAll bool, policy backup.Decision) error {
	outcome, err := app.Backups.Import(ctx, file, replaceAll)
	if err != nil {
		return fmt.Errorf("import %s: %s: %w", app.Files.DisplayName(file), outcome.Message, err)
	}
	fmt.Fprintf(w, "Imported %d expenses, %d conflicts\n", outcome.Inserted, outcome.Conflicts)
	if outcome.Conflicts == 0 {
		return nil
	}

	session := app.Backups.PendingSession()
	if session == nil {
		return nil
	}

	var res backup.Resolution
	if policy != 0 {
		if _, _, ok := session.Next(); !ok {
			return backup.ErrInvalidState
		}
		res, _, err = app.Backups.Decide(ctx, policy, true)
	} else {
		res, err = askConflicts(ctx, app, session, bufio.NewScanner(in), w)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Resolved conflicts: %d discarded, %d replaced, %d duplicated\n",
		res.Discarded, res.Replaced, res.Duplicated)
	return nil
}

func askConflicts(ctx context.Context, app *cli.App, session *backup.Session, sc *bufio.Scanner, w io.Writer) (backup.Resolution, error) {
	loc := app.Expenses.Location()
	for {
		idx, c, ok := session.Next()
		if !ok {
			return backup.Resolution{}, backup.ErrInvalidState
		}
		printConflict(w, idx, session.Len(), c, loc)

		d, all, err := promptDecision(sc, w)
		if err != nil {
			return backup.Resolution{}, fmt.Errorf("%d conflicts left undecided: %w", session.Pending(), err)
		}
		res, applied, err := app.Backups.Decide(ctx, d, all)
		if err != nil {
			return res, err
		}
		if applied {
			return res, nil
		}
	}
}

func printConflict(w io.Writer, idx, total int, c backup.Conflict, loc *time.Location) {
	when := time.UnixMilli(c.Incoming.Timestamp).In(loc).Format("2006-01-02 15:04")
	fmt.Fprintf(w, "\nConflict %d of %d: %s, %s on %s\n", idx+1, total, c.Incoming.Name, core.FormatEuros(c.Incoming.Amount), when)
	fmt.Fprintf(w, "  stored:   %s\n", describe(c.Existing))
	fmt.Fprintf(w, "  incoming: %s\n", describe(c.Incoming))
}

func describe(e core.Expense) string {
	parts := []string{fmt.Sprintf("#%d", e.ID)}
	if e.Category != "" {
		parts = append(parts, "category "+e.Category)
	}
	if e.Description != "" {
		parts = append(parts, fmt.Sprintf("%q", e.Description))
	}
	if !e.Photo.IsZero() {
		parts = append(parts, "photo "+e.Photo.String())
	}
	return strings.Join(parts, ", ")
}

// promptDecision reads d, r or u. A trailing ! applies the answer to every
// remaining conflict.
func promptDecision(sc *bufio.Scanner, w io.Writer) (backup.Decision, bool, error) {
	for {
		fmt.Fprint(w, "[d]iscard, [r]eplace, d[u]plicate (add ! for all remaining): ")
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return 0, false, err
			}
			return 0, false, io.ErrUnexpectedEOF
		}
		answer := strings.ToLower(strings.TrimSpace(sc.Text()))
		all := strings.HasSuffix(answer, "!")
		answer = strings.TrimSuffix(answer, "!")

		switch answer {
		case "d", "discard":
			return backup.Discard, all, nil
		case "r", "replace":
			return backup.Replace, all, nil
		case "u", "duplicate":
			return backup.Duplicate, all, nil
		}
		fmt.Fprintf(w, "Unknown answer %q\n", sc.Text())
	}
}
