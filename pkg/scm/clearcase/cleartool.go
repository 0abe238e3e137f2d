package clearcase

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ViewSpec describes the snapshot view a job builds in.
type ViewSpec struct {
	// Tag is the view tag registered with ClearCase.
	Tag string `json:"view_tag"`
	// ConfigSpec selects the element versions loaded into the view. Empty
	// keeps whatever spec the view already has.
	ConfigSpec string `json:"config_spec"`
	// Verbose streams cleartool output live into the job log.
	Verbose bool `json:"verbose"`
}

// ClearTool wraps the cleartool subcommands the executor needs. It only
// assembles argument vectors; execution, logging, and failure semantics
// belong to the launcher.
type ClearTool struct {
	runner  Runner
	verbose bool
}

// NewClearTool returns a wrapper running subcommands through r. verbose is
// applied to every invocation (the VerboseEnv override still applies on top).
func NewClearTool(r Runner, verbose bool) *ClearTool {
	return &ClearTool{runner: r, verbose: verbose}
}

// Version returns the tool's version banner.
func (c *ClearTool) Version(ctx context.Context) (string, error) {
	var out bytes.Buffer
	if err := c.runner.Run(ctx, Command{Args: []string{"-version"}, Stdout: &out, Verbose: c.verbose}); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.String()), nil
}

// MakeView creates a snapshot view tagged tag at path.
func (c *ClearTool) MakeView(ctx context.Context, tag, path string) error {
	return c.runner.Run(ctx, Command{
		Args:    []string{"mkview", "-snapshot", "-tag", tag, path},
		Verbose: c.verbose,
	})
}

// RemoveView removes the snapshot view at path.
func (c *ClearTool) RemoveView(ctx context.Context, path string) error {
	return c.runner.Run(ctx, Command{
		Args:    []string{"rmview", "-force", path},
		Verbose: c.verbose,
	})
}

// Update loads the snapshot view at viewPath according to its config spec.
func (c *ClearTool) Update(ctx context.Context, viewPath string) error {
	return c.runner.Run(ctx, Command{
		Args:    []string{"update", "-force", "-overwrite"},
		Dir:     viewPath,
		Verbose: c.verbose,
	})
}

// CatConfigSpec returns the config spec currently set on the view.
func (c *ClearTool) CatConfigSpec(ctx context.Context, tag string) (string, error) {
	var out bytes.Buffer
	err := c.runner.Run(ctx, Command{
		Args:    []string{"catcs", "-tag", tag},
		Stdout:  &out,
		Verbose: c.verbose,
	})
	if err != nil {
		return "", err
	}
	return out.String(), nil
}

// SetConfigSpec sets the view's config spec and loads it. cleartool reads
// the spec from a file, so the text is staged through a temporary one.
func (c *ClearTool) SetConfigSpec(ctx context.Context, tag, configSpec string) error {
	f, err := os.CreateTemp("", "configspec*.txt")
	if err != nil {
		return fmt.Errorf("staging config spec: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.WriteString(configSpec); err != nil {
		f.Close()
		return fmt.Errorf("staging config spec: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("staging config spec: %w", err)
	}

	return c.runner.Run(ctx, Command{
		Args:    []string{"setcs", "-tag", tag, f.Name()},
		Verbose: c.verbose,
	})
}

// PrepareView brings the job's snapshot view to the wanted state under the
// workspace root: create it if missing, switch the config spec if it
// drifted (setcs reloads the view), otherwise load the latest versions.
// Returns the view path builds should run in.
func (c *ClearTool) PrepareView(ctx context.Context, spec ViewSpec) (string, error) {
	viewPath := filepath.Join(c.runner.Workspace(), spec.Tag)

	if _, err := os.Stat(viewPath); err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("checking view path: %w", err)
		}
		if err := c.MakeView(ctx, spec.Tag, viewPath); err != nil {
			return "", err
		}
	}

	specChanged := false
	if spec.ConfigSpec != "" {
		current, err := c.CatConfigSpec(ctx, spec.Tag)
		if err != nil {
			return "", err
		}
		if !sameConfigSpec(current, spec.ConfigSpec) {
			specChanged = true
			if err := c.SetConfigSpec(ctx, spec.Tag, spec.ConfigSpec); err != nil {
				return "", err
			}
		}
	}

	if !specChanged {
		if err := c.Update(ctx, viewPath); err != nil {
			return "", err
		}
	}
	return viewPath, nil
}

// sameConfigSpec compares config specs ignoring per-line trailing whitespace
// and surrounding blank lines; cleartool reformats stored specs.
func sameConfigSpec(a, b string) bool {
	return normalizeConfigSpec(a) == normalizeConfigSpec(b)
}

func normalizeConfigSpec(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
