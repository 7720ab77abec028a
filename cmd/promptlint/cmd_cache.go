package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/promptlint/promptlint/internal/cache"
	"github.com/promptlint/promptlint/internal/models"
	"github.com/promptlint/promptlint/internal/projectconfig"
	"github.com/promptlint/promptlint/internal/utils"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// errNotConfirmed is returned when cache clear runs without --yes and the
// user declines or cannot be asked.
var errNotConfirmed = errors.New("cache not cleared: confirmation required (use --yes when not on a terminal)")

// promptConfirm is a test hook for replacing the confirmation prompt in tests.
// Takes reader, writer, and question string. Returns true for yes.
var promptConfirm = defaultPromptConfirm

func defaultPromptConfirm(in io.Reader, out io.Writer, question string) bool {
	f, ok := in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return false
	}

	var confirmed bool
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(question).
				Affirmative("Yes").
				Negative("No").
				Value(&confirmed),
		),
	).WithInput(in).WithOutput(out).Run()

	if err != nil {
		return false
	}
	return confirmed
}

type cacheOptions struct {
	cacheDir  string
	suitePath string
	yes       bool
}

func newCacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the result cache",
		Long: `Manage the result cache.

The cache stores provider results and output embeddings so repeated runs only
call providers for new cells. Entries are keyed by provider, model, resolved
prompt text and sampling config.`,
	}

	cmd.AddCommand(newCacheClearCommand())

	return cmd
}

func newCacheClearCommand() *cobra.Command {
	opts := &cacheOptions{}

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear the result cache",
		Long: `Clear all cached results and embeddings.

With --suite the backend configured in the suite's run.cache block is cleared;
otherwise the file cache at --cache-dir is. cache.dir in .promptlint.yaml
applies when --cache-dir is not given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cacheClear(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.cacheDir, "cache-dir", "", "Cache location to clear (default: "+models.DefaultCacheDir+")")
	cmd.Flags().StringVar(&opts.suitePath, "suite", "", "Clear the cache configured by this suite file")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "Do not ask for confirmation")

	return cmd
}

func cacheClear(cmd *cobra.Command, opts *cacheOptions) error {
	settings := models.CacheSettings{Backend: models.DefaultCacheBackend, Path: models.DefaultCacheDir}
	baseDir := "."
	if opts.suitePath != "" {
		suite, err := models.LoadSuite(opts.suitePath)
		if err != nil {
			return fmt.Errorf("failed to load suite: %w", err)
		}
		settings = suite.Run.Cache
		baseDir = filepath.Dir(opts.suitePath)
	}

	base, err := filepath.Abs(baseDir)
	if err != nil {
		return fmt.Errorf("resolving cache directory: %w", err)
	}
	if opts.cacheDir == "" {
		project, err := projectconfig.Load(base)
		if err != nil {
			return err
		}
		opts.cacheDir = project.CacheDir()
	}

	where := settings.Backend
	if opts.cacheDir != "" || settings.Path != "" {
		where = settings.Backend + " cache at " + resolvedCachePath(settings, opts.cacheDir, base)
	}

	if !opts.yes && !promptConfirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Clear the "+where+"?") {
		return errNotConfirmed
	}

	c, err := openCache(cmd.Context(), settings, opts.cacheDir, base, slog.Default())
	if err != nil {
		return err
	}
	defer c.Close() //nolint:errcheck

	if err := c.Clear(cmd.Context()); err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Cache cleared: %s\n", where) //nolint:errcheck
	return nil
}

func resolvedCachePath(settings models.CacheSettings, override, base string) string {
	if override != "" {
		return override
	}
	if settings.Backend == "sqlite" && cache.IsSQLiteURI(settings.Path) {
		return settings.Path
	}
	return utils.ResolvePath(settings.Path, base)
}
