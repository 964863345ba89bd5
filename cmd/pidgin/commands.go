package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/invopop/jsonschema"

	"github.com/pidginlab/pidgin/pkg/config"
	"github.com/pidginlab/pidgin/pkg/daemon"
	"github.com/pidginlab/pidgin/pkg/experiment"
	"github.com/pidginlab/pidgin/pkg/manifest"
)

// RunCmd starts an experiment daemon.
type RunCmd struct {
	Config string `arg:"" help:"Experiment config YAML." type:"path"`
}

func (c *RunCmd) Run(cli *CLI) error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}
	if err := cfg.CheckCredentials(); err != nil {
		return err
	}

	name, err := freshName(cli.Root, cfg.Name)
	if err != nil {
		return err
	}
	if name != cfg.Name {
		fmt.Printf("name %q is taken by a running experiment; using %q\n", cfg.Name, name)
	}

	experimentID := experiment.NewExperimentID()
	if err := daemon.Spawn(daemon.Options{
		Root:         cli.Root,
		ExperimentID: experimentID,
		ConfigPath:   c.Config,
		Name:         name,
	}); err != nil {
		return err
	}

	fmt.Printf("experiment started\n")
	fmt.Printf("  id:   %s\n", experimentID)
	fmt.Printf("  name: %s\n", name)
	fmt.Printf("  dir:  %s\n", daemon.ExperimentDir(cli.Root, experimentID))
	fmt.Printf("\nfollow with: pidgin status --follow %s\n", experimentID)
	return nil
}

// freshName ensures no running experiment shares the human-readable name,
// appending a numeric suffix until it is unique.
func freshName(root, name string) (string, error) {
	running, _, err := daemon.ListActive(root)
	if err != nil {
		return "", err
	}
	taken := map[string]bool{}
	for _, id := range running {
		if m, err := manifest.Load(daemon.ExperimentDir(root, id)); err == nil {
			taken[m.Name] = true
		}
	}
	candidate := name
	for i := 2; taken[candidate]; i++ {
		candidate = fmt.Sprintf("%s-%d", name, i)
	}
	return candidate, nil
}

// StopCmd stops one experiment.
type StopCmd struct {
	ID string `arg:"" help:"Experiment id."`
}

func (c *StopCmd) Run(cli *CLI) error {
	if err := daemon.Stop(cli.Root, c.ID); err != nil {
		return err
	}
	fmt.Printf("stopped %s\n", c.ID)
	return nil
}

// StopAllCmd stops every active experiment.
type StopAllCmd struct{}

func (c *StopAllCmd) Run(cli *CLI) error {
	stopped, err := daemon.StopAll(cli.Root)
	for _, id := range stopped {
		fmt.Printf("stopped %s\n", id)
	}
	if len(stopped) == 0 && err == nil {
		fmt.Println("no active experiments")
	}
	return err
}

// StatusCmd shows one experiment, or lists all of them.
type StatusCmd struct {
	ID     string `arg:"" optional:"" help:"Experiment id (omit to list all)."`
	Follow bool   `short:"f" help:"Keep watching the manifest for changes."`
}

func (c *StatusCmd) Run(cli *CLI) error {
	if c.ID == "" {
		return listExperiments(cli.Root)
	}

	dir := daemon.ExperimentDir(cli.Root, c.ID)
	if !c.Follow {
		m, err := manifest.Load(dir)
		if err != nil {
			return fmt.Errorf("experiment %s: %w", c.ID, err)
		}
		printManifest(m)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	err := manifest.Watch(ctx, dir, func(m *manifest.Manifest) {
		printManifest(m)
		fmt.Println()
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func listExperiments(root string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("no experiments")
			return nil
		}
		return err
	}
	type row struct {
		id, name, status string
		done, total      int
	}
	var rows []row
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == "active" {
			continue
		}
		m, err := manifest.Load(filepath.Join(root, entry.Name()))
		if err != nil {
			continue
		}
		rows = append(rows, row{entry.Name(), m.Name, m.Status, m.Completed, m.Total})
	}
	if len(rows) == 0 {
		fmt.Println("no experiments")
		return nil
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].id < rows[j].id })
	for _, r := range rows {
		fmt.Printf("%-38s %-20s %-12s %d/%d\n", r.id, r.name, r.status, r.done, r.total)
	}
	return nil
}

func printManifest(m *manifest.Manifest) {
	fmt.Printf("experiment: %s (%s)\n", m.Name, m.ExperimentID)
	fmt.Printf("status:     %s\n", m.Status)
	fmt.Printf("progress:   %d completed, %d failed, %d total\n", m.Completed, m.Failed, m.Total)

	ids := make([]string, 0, len(m.Conversations))
	for id := range m.Conversations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		conv := m.Conversations[id]
		line := fmt.Sprintf("  %s  %-10s turn %d/%d", id, conv.Status, conv.TurnsComplete, conv.TurnsTotal)
		if conv.LastConvergence != nil {
			line += fmt.Sprintf("  convergence %.3f", *conv.LastConvergence)
		}
		if conv.Error != "" {
			line += "  error: " + conv.Error
		}
		fmt.Println(line)
	}
}

// BranchCmd starts a new conversation seeded from a parent's history.
type BranchCmd struct {
	Parent string `arg:"" help:"Parent conversation JSONL file." type:"path"`
	Turn   int    `required:"" help:"Branch point: replay the parent through this turn."`
	Config string `required:"" short:"c" help:"Experiment config YAML." type:"path"`
}

func (c *BranchCmd) Run(cli *CLI) error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}
	if err := cfg.CheckCredentials(); err != nil {
		return err
	}
	if c.Turn < 1 {
		return fmt.Errorf("--turn must be >= 1")
	}

	experimentID := experiment.NewExperimentID()
	if err := daemon.Spawn(daemon.Options{
		Root:         cli.Root,
		ExperimentID: experimentID,
		ConfigPath:   c.Config,
		BranchParent: c.Parent,
		BranchPoint:  c.Turn,
		Name:         cfg.Name + "-branch",
	}); err != nil {
		return err
	}
	fmt.Printf("branched experiment started\n")
	fmt.Printf("  id:     %s\n", experimentID)
	fmt.Printf("  parent: %s (turn %d)\n", c.Parent, c.Turn)
	return nil
}

// ValidateCmd checks a config without starting anything.
type ValidateCmd struct {
	Config string `arg:"" help:"Experiment config YAML." type:"path"`
}

func (c *ValidateCmd) Run() error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			fmt.Printf("%s: %d problems\n", c.Config, len(verr.Problems))
			for _, p := range verr.Problems {
				fmt.Printf("  - %s\n", p)
			}
			os.Exit(1)
		}
		return err
	}
	fmt.Printf("%s: valid (%s, %d conversations, %d turns each)\n",
		c.Config, cfg.Name, cfg.Repetitions, cfg.MaxTurns)
	return nil
}

// SchemaCmd prints the JSON Schema for experiment configs.
type SchemaCmd struct{}

func (c *SchemaCmd) Run() error {
	reflector := jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
	}
	schema := reflector.Reflect(&config.ExperimentConfig{})
	schema.Title = "Pidgin Experiment Config"
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// DaemonCmd is the hidden child-side entrypoint spawned by RunCmd.
type DaemonCmd struct {
	ID           string `required:"" help:"Experiment id."`
	Config       string `required:"" help:"Experiment config YAML." type:"path"`
	BranchParent string `name:"branch-parent" help:"Parent conversation JSONL."`
	BranchPoint  int    `name:"branch-point" help:"Branch point turn."`
	Name         string `help:"Experiment name override."`
}

func (c *DaemonCmd) Run(cli *CLI) error {
	return daemon.Run(daemon.Options{
		Root:         cli.Root,
		ExperimentID: c.ID,
		ConfigPath:   c.Config,
		BranchParent: c.BranchParent,
		BranchPoint:  c.BranchPoint,
		Name:         c.Name,
	})
}
