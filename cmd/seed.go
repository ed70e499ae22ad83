package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"argus/config"
	"argus/core"
	"argus/service"
	"argus/storage"
)

const (
	maxSeedFileSize = 10 * 1024 * 1024 // 10MB - protection against memory exhaustion
	defaultTimeout  = 2 * time.Minute
)

// seedFile is the YAML shape of a seed data file.
type seedFile struct {
	Playbooks  []seedPlaybook  `yaml:"playbooks"`
	AlertRules []seedAlertRule `yaml:"alert_rules"`
	Events     []seedEvent     `yaml:"events"`
}

type seedPlaybook struct {
	Name          string     `yaml:"name"`
	Description   string     `yaml:"description"`
	Category      string     `yaml:"category"`
	Status        string     `yaml:"status"`
	Trigger       string     `yaml:"trigger"`
	TriggerConfig struct {
		RuleName string `yaml:"rule_name"`
		Cron     string `yaml:"cron"`
	} `yaml:"trigger_config"`
	Steps []seedStep `yaml:"steps"`
}

type seedStep struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
	Config      struct {
		ActionID     string `yaml:"action_id"`
		Field        string `yaml:"field"`
		Operator     string `yaml:"operator"`
		Value        string `yaml:"value"`
		Channel      string `yaml:"channel"`
		Message      string `yaml:"message"`
		Instructions string `yaml:"instructions"`
		AssigneeRole string `yaml:"assignee_role"`
	} `yaml:"config"`
}

type seedAlertRule struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Enabled     *bool  `yaml:"enabled"`
	Condition   struct {
		EventType string `yaml:"event_type"`
		Source    string `yaml:"source"`
		Severity  string `yaml:"severity"`
		SiteID    string `yaml:"site_id"`
		Count     int    `yaml:"count"`
		Timeframe string `yaml:"timeframe"`
	} `yaml:"condition"`
	Action       string `yaml:"action"`
	ActionConfig struct {
		URL        string   `yaml:"url"`
		Recipients []string `yaml:"recipients"`
	} `yaml:"action_config"`
	Severity string `yaml:"severity"`
}

type seedEvent struct {
	Timestamp   time.Time              `yaml:"timestamp"`
	Source      string                 `yaml:"source"`
	EventType   string                 `yaml:"event_type"`
	Severity    string                 `yaml:"severity"`
	Description string                 `yaml:"description"`
	RawLog      string                 `yaml:"raw_log"`
	SiteID      string                 `yaml:"site_id"`
	Metadata    map[string]interface{} `yaml:"metadata"`
}

// seedSummary counts what a seed run created.
type seedSummary struct {
	Playbooks int `json:"playbooks"`
	Rules     int `json:"rules"`
	Events    int `json:"events"`
	Failed    int `json:"failed"`
}

// newSeedCmd creates the 'seed' subcommand.
func newSeedCmd() *cobra.Command {
	var createdBy string

	cmd := &cobra.Command{
		Use:   "seed <file>",
		Short: "Load sample playbooks, alert rules and events",
		Long: `Load playbooks, alert rules and events from a YAML file into the
configured database. Intended for demos and development environments.

Playbooks default to draft; set "status: active" on an entry to enable it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			filename := args[0]
			if err := validateFilePath(filename); err != nil {
				return fmt.Errorf("invalid file path: %w", err)
			}

			fileInfo, err := os.Stat(filename)
			if err != nil {
				return fmt.Errorf("failed to stat file: %w", err)
			}
			if fileInfo.Size() > maxSeedFileSize {
				return fmt.Errorf("file too large: maximum size is %d bytes, got %d bytes",
					maxSeedFileSize, fileInfo.Size())
			}

			data, err := os.ReadFile(filename)
			if err != nil {
				return fmt.Errorf("failed to read file: %w", err)
			}

			seed, err := parseSeedFile(data)
			if err != nil {
				return err
			}

			stores, cleanup, err := initSeedStores()
			if err != nil {
				return err
			}
			defer cleanup()

			if !quiet {
				infoColor.Printf("Seeding from %s\n", filename)
			}

			var s *spinner.Spinner
			if !outputJSON && !quiet {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				s.Suffix = " Seeding database..."
				s.Start()
			}

			summary := applySeed(ctx, seed, stores, createdBy)

			if s != nil {
				s.Stop()
			}

			if outputJSON {
				return outputAsJSON(summary)
			}

			if summary.Failed > 0 {
				warningColor.Printf("⚠ %d entries failed, see log output above\n", summary.Failed)
			}
			if !quiet {
				successColor.Printf("✓ Seeded %d playbooks, %d alert rules, %d events\n",
					summary.Playbooks, summary.Rules, summary.Events)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&createdBy, "created-by", "seed", "Value recorded as the creator of seeded playbooks")

	return cmd
}

// parseSeedFile decodes a seed YAML document.
func parseSeedFile(data []byte) (*seedFile, error) {
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &seed, nil
}

// seedStores bundles the storages and services a seed run writes through.
type seedStores struct {
	registry *service.Registry
	rules    storage.AlertRuleStorageInterface
	events   storage.EventStorageInterface
}

// initSeedStores opens the configured database and builds the write path.
// Returns the stores and a cleanup function.
func initSeedStores() (*seedStores, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	sugar := logger.Sugar()

	db, err := storage.NewSQLite(cfg.GetSQLitePath(), sugar)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize SQLite: %w", err)
	}

	stores := &seedStores{
		registry: service.NewRegistry(storage.NewSQLitePlaybookStorage(db, sugar), sugar),
		rules:    storage.NewSQLiteAlertRuleStorage(db, sugar),
		events:   storage.NewSQLiteEventStorage(db, sugar),
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			sugar.Warnf("Failed to close SQLite connection during cleanup: %v", err)
		}
		_ = logger.Sync()
	}

	return stores, cleanup, nil
}

// applySeed writes every seed entry, continuing past individual failures.
func applySeed(ctx context.Context, seed *seedFile, stores *seedStores, createdBy string) seedSummary {
	var summary seedSummary

	for i := range seed.AlertRules {
		rule := seed.AlertRules[i].toRule()
		if err := rule.Validate(); err != nil {
			errorColor.Printf("✗ Invalid alert rule %q: %v\n", rule.Name, err)
			summary.Failed++
			continue
		}
		if err := stores.rules.CreateRule(ctx, rule); err != nil {
			errorColor.Printf("✗ Failed to create alert rule %q: %v\n", rule.Name, err)
			summary.Failed++
			continue
		}
		summary.Rules++
	}

	for i := range seed.Playbooks {
		entry := &seed.Playbooks[i]
		p := entry.toPlaybook(createdBy)
		if err := stores.registry.Create(ctx, p); err != nil {
			errorColor.Printf("✗ Failed to create playbook %q: %v\n", p.Name, err)
			summary.Failed++
			continue
		}
		if core.PlaybookStatus(entry.Status) == core.PlaybookStatusActive {
			if _, err := stores.registry.Toggle(ctx, p.ID); err != nil {
				errorColor.Printf("✗ Failed to activate playbook %q: %v\n", p.Name, err)
				summary.Failed++
				continue
			}
		}
		summary.Playbooks++
	}

	events := make([]*core.Event, 0, len(seed.Events))
	for i := range seed.Events {
		evt := seed.Events[i].toEvent()
		if err := evt.Validate(); err != nil {
			errorColor.Printf("✗ Invalid event %q: %v\n", evt.EventType, err)
			summary.Failed++
			continue
		}
		events = append(events, evt)
	}
	if len(events) > 0 {
		if err := stores.events.CreateEvents(ctx, events); err != nil {
			errorColor.Printf("✗ Failed to create events: %v\n", err)
			summary.Failed += len(events)
		} else {
			summary.Events = len(events)
		}
	}

	return summary
}

func (sp *seedPlaybook) toPlaybook(createdBy string) *core.Playbook {
	p := core.NewPlaybook(sp.Name, sp.Description, core.PlaybookCategory(sp.Category), createdBy)
	if sp.Trigger != "" {
		p.Trigger = core.TriggerType(sp.Trigger)
	}
	p.TriggerConfig = core.TriggerConfig{
		RuleName: sp.TriggerConfig.RuleName,
		Cron:     sp.TriggerConfig.Cron,
	}
	for i, step := range sp.Steps {
		p.Steps = append(p.Steps, core.PlaybookStep{
			Order:       i + 1,
			Name:        step.Name,
			Type:        core.StepType(step.Type),
			Description: step.Description,
			Config: core.StepConfig{
				ActionID:     step.Config.ActionID,
				Field:        step.Config.Field,
				Operator:     step.Config.Operator,
				Value:        step.Config.Value,
				Channel:      step.Config.Channel,
				Message:      step.Config.Message,
				Instructions: step.Config.Instructions,
				AssigneeRole: step.Config.AssigneeRole,
			},
		})
	}
	return p
}

func (sr *seedAlertRule) toRule() *core.AlertRule {
	rule := core.NewAlertRule(sr.Name, core.RuleCondition{
		EventType: sr.Condition.EventType,
		Source:    sr.Condition.Source,
		Severity:  sr.Condition.Severity,
		SiteID:    sr.Condition.SiteID,
		Count:     sr.Condition.Count,
		Timeframe: sr.Condition.Timeframe,
	}, core.RuleAction(sr.Action), core.Severity(sr.Severity))
	rule.Description = sr.Description
	if sr.Enabled != nil {
		rule.Enabled = *sr.Enabled
	}
	rule.ActionConfig = core.RuleActionConfig{
		URL:        sr.ActionConfig.URL,
		Recipients: sr.ActionConfig.Recipients,
	}
	return rule
}

func (se *seedEvent) toEvent() *core.Event {
	evt := core.NewEvent(core.EventSource(se.Source), se.EventType, core.Severity(se.Severity), se.Timestamp)
	evt.Description = se.Description
	evt.RawLog = se.RawLog
	evt.SiteID = se.SiteID
	if se.Metadata != nil {
		evt.Metadata = se.Metadata
	}
	return evt
}

// validateFilePath rejects paths that traverse outside the working directory.
func validateFilePath(filename string) error {
	decoded, err := url.QueryUnescape(filename)
	if err != nil {
		decoded = filename
	}

	if strings.Contains(decoded, "..") || strings.Contains(filename, "..") {
		return fmt.Errorf("path traversal detected: '..' not allowed in file path")
	}

	cleanPath := filepath.Clean(decoded)
	absPath, err := filepath.Abs(cleanPath)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	if !strings.HasPrefix(absPath, workDir) {
		return fmt.Errorf("path escapes current directory")
	}

	return nil
}

// outputAsJSON outputs data as JSON to stdout.
func outputAsJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
