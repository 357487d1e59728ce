package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/saccohq/be-coop-scheduler/internal/repository"
)

// templateFile is the YAML shape seed-templates consumes.
type templateFile struct {
	Templates []templateSpec `yaml:"templates"`
}

type templateSpec struct {
	EntityType string      `yaml:"entity_type"`
	Name       string      `yaml:"name"`
	MinAmount  *float64    `yaml:"min_amount"`
	MaxAmount  *float64    `yaml:"max_amount"`
	Priority   int         `yaml:"priority"`
	Levels     []levelSpec `yaml:"levels"`
}

type levelSpec struct {
	Level         int      `yaml:"level"`
	RequiredRoles []string `yaml:"required_roles"`
	TimeoutHours  int      `yaml:"timeout_hours"`
	Priority      int      `yaml:"priority"`
}

// seedTemplatesCmd loads workflow templates and their approval levels from a
// YAML file into the database.
func seedTemplatesCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed-templates",
		Short: "Load workflow templates from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			raw, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read template file: %w", err)
			}
			var spec templateFile
			if err := yaml.Unmarshal(raw, &spec); err != nil {
				return fmt.Errorf("parse template file: %w", err)
			}
			if len(spec.Templates) == 0 {
				return fmt.Errorf("no templates defined in %s", file)
			}
			for _, t := range spec.Templates {
				if err := validateTemplateSpec(t); err != nil {
					return fmt.Errorf("template %q: %w", t.Name, err)
				}
			}

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			repo := repository.NewTemplateRepository(a.db)
			for _, t := range spec.Templates {
				tpl := &repository.WorkflowTemplate{
					EntityType: repository.EntityType(t.EntityType),
					Name:       t.Name,
					IsActive:   true,
					MinAmount:  t.MinAmount,
					MaxAmount:  t.MaxAmount,
					Priority:   t.Priority,
				}
				for _, l := range t.Levels {
					tpl.Levels = append(tpl.Levels, &repository.ApprovalLevel{
						LevelNumber:   l.Level,
						RequiredRoles: l.RequiredRoles,
						TimeoutHours:  l.TimeoutHours,
						Priority:      l.Priority,
					})
				}
				if err := repo.Create(ctx, tpl); err != nil {
					return fmt.Errorf("seed template %q: %w", t.Name, err)
				}
				fmt.Printf("seeded %s (%s, %d levels)\n", tpl.Name, tpl.EntityType, len(tpl.Levels))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "templates.yaml", "YAML file of workflow templates")
	return cmd
}

func validateTemplateSpec(t templateSpec) error {
	switch repository.EntityType(t.EntityType) {
	case repository.EntityLoan, repository.EntityMemberRegistration, repository.EntityWithdrawal:
	default:
		return fmt.Errorf("unknown entity_type %q", t.EntityType)
	}
	if t.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(t.Levels) == 0 {
		return fmt.Errorf("at least one level is required")
	}
	for i, l := range t.Levels {
		if l.Level != i+1 {
			return fmt.Errorf("levels must be numbered 1..n without gaps, got %d at position %d", l.Level, i+1)
		}
		if len(l.RequiredRoles) == 0 {
			return fmt.Errorf("level %d: required_roles is empty", l.Level)
		}
	}
	if t.MinAmount != nil && t.MaxAmount != nil && *t.MaxAmount <= *t.MinAmount {
		return fmt.Errorf("max_amount must exceed min_amount")
	}
	return nil
}
