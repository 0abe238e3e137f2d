package commands

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"clearci/pkg/client"
)

// jobManifest is the YAML shape of a job definition file.
type jobManifest struct {
	Name     string `yaml:"name"`
	Schedule string `yaml:"schedule"`
	Command  string `yaml:"command"`
	SCM      struct {
		ViewTag    string `yaml:"view_tag"`
		ConfigSpec string `yaml:"config_spec"`
		// ConfigSpecFile points at a separate file holding the config spec,
		// resolved relative to the manifest. Teams keep specs under version
		// control next to the manifest rather than inline.
		ConfigSpecFile string `yaml:"config_spec_file"`
		Verbose        bool   `yaml:"verbose"`
	} `yaml:"scm"`
	RetryPolicy struct {
		MaxRetries      int    `yaml:"max_retries"`
		BackoffStrategy string `yaml:"backoff_strategy"`
		InitialInterval string `yaml:"initial_interval"`
		MaxInterval     string `yaml:"max_interval"`
	} `yaml:"retry_policy"`
	Limits struct {
		Timeout     string `yaml:"timeout"`
		MaxLogBytes int64  `yaml:"max_log_bytes"`
	} `yaml:"limits"`
}

// loadManifest reads and validates a job manifest.
func loadManifest(path string) (*jobManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var m jobManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}

	if m.Name == "" {
		return nil, fmt.Errorf("manifest %s: name is required", path)
	}
	if m.Schedule == "" {
		return nil, fmt.Errorf("manifest %s: schedule is required", path)
	}
	if m.Command == "" {
		return nil, fmt.Errorf("manifest %s: command is required", path)
	}
	if m.SCM.ConfigSpec != "" && m.SCM.ConfigSpecFile != "" {
		return nil, fmt.Errorf("manifest %s: config_spec and config_spec_file are mutually exclusive", path)
	}

	if m.SCM.ConfigSpecFile != "" {
		specPath := m.SCM.ConfigSpecFile
		if !filepath.IsAbs(specPath) {
			specPath = filepath.Join(filepath.Dir(path), specPath)
		}
		spec, err := os.ReadFile(specPath)
		if err != nil {
			return nil, fmt.Errorf("reading config spec %s: %w", specPath, err)
		}
		m.SCM.ConfigSpec = string(spec)
	}

	return &m, nil
}

func (m *jobManifest) scm() client.ClearCaseView {
	return client.ClearCaseView{
		ViewTag:    m.SCM.ViewTag,
		ConfigSpec: m.SCM.ConfigSpec,
		Verbose:    m.SCM.Verbose,
	}
}

func (m *jobManifest) retryPolicy() client.RetryPolicy {
	return client.RetryPolicy{
		MaxRetries:      m.RetryPolicy.MaxRetries,
		BackoffStrategy: m.RetryPolicy.BackoffStrategy,
		InitialInterval: m.RetryPolicy.InitialInterval,
		MaxInterval:     m.RetryPolicy.MaxInterval,
	}
}

func (m *jobManifest) limits() client.Limits {
	return client.Limits{
		Timeout:     m.Limits.Timeout,
		MaxLogBytes: m.Limits.MaxLogBytes,
	}
}

func (m *jobManifest) toSpec() client.JobSpec {
	return client.JobSpec{
		Name:        m.Name,
		Schedule:    m.Schedule,
		Command:     m.Command,
		SCM:         m.scm(),
		RetryPolicy: m.retryPolicy(),
		Limits:      m.limits(),
	}
}

// toPatch covers every mutable field: applying a manifest makes the server
// match the file, it does not merge.
func (m *jobManifest) toPatch() client.JobPatch {
	scm := m.scm()
	retry := m.retryPolicy()
	limits := m.limits()
	return client.JobPatch{
		Schedule:    &m.Schedule,
		Command:     &m.Command,
		SCM:         &scm,
		RetryPolicy: &retry,
		Limits:      &limits,
	}
}

func applyCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Create or update a job from a manifest file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadManifest(file)
			if err != nil {
				return err
			}

			api, err := buildClient()
			if err != nil {
				return err
			}

			existing, err := api.GetJob(cmd.Context(), m.Name)
			var apiErr *client.APIError
			switch {
			case err == nil:
				patch := m.toPatch()
				job, err := api.UpdateJob(cmd.Context(), existing.ID, patch)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "job %s updated\n", job.Name)
			case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound:
				job, err := api.CreateJob(cmd.Context(), m.toSpec())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "job %s created, next run %s\n", job.Name, formatTime(job.NextRunAt))
			default:
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Job manifest (YAML)")
	cmd.MarkFlagRequired("file")

	return cmd
}
