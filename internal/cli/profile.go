package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/aiida/internal/config"
	"github.com/roach88/aiida/internal/orm"
)

// EnvPath names the directory holding the default profile.
const EnvPath = "AIIDA_PATH"

const profileFile = "profile.yaml"

// loadProfile resolves the profile configuration of a command.
func loadProfile(opts *RootOptions) (*config.Profile, error) {
	if opts.Config != "" {
		return config.Load(opts.Config)
	}
	dir := os.Getenv(EnvPath)
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locate profile: %w", err)
		}
		dir = filepath.Join(home, ".aiida")
	}
	p, err := config.Load(filepath.Join(dir, profileFile))
	if errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create profile directory: %w", err)
		}
		return config.Default(dir), nil
	}
	return p, err
}

// newLogger returns the logger for a command. Logs go to w so that JSON
// output on stdout stays parseable.
func newLogger(opts *RootOptions, w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

// openBackend loads the profile of a command and opens its storage.
func openBackend(ctx context.Context, opts *RootOptions, cmd *cobra.Command, formatter *OutputFormatter) (*orm.Backend, *config.Profile, error) {
	p, err := loadProfile(opts)
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return nil, nil, WrapExitError(ExitCommandError, "failed to load profile", err)
	}
	formatter.VerboseLog("Using profile %s (storage %s, %s repository at %s)", p.Name, p.Storage.Path, p.Repository.Backend, p.Repository.Path)

	b, err := orm.Open(ctx, p, orm.WithLogger(newLogger(opts, cmd.ErrOrStderr())))
	if err != nil {
		_ = formatter.Error(ErrCodeProfile, err.Error(), nil)
		return nil, nil, WrapExitError(ExitCommandError, "failed to open profile", err)
	}
	return b, p, nil
}

// parseRules converts --rule name=bool flags into traversal rule
// overrides.
func parseRules(raw map[string]string) (map[string]bool, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	rules := make(map[string]bool, len(raw))
	for name, v := range raw {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %q is not a boolean", name, v)
		}
		rules[name] = b
	}
	return rules, nil
}

func closeBackend(b *orm.Backend) {
	if err := b.Close(); err != nil {
		b.Logger().Error("error closing profile", "error", err)
	}
}
