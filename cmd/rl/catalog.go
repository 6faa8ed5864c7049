package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"reportline/internal/authoring"
	"reportline/internal/domain"
	"reportline/internal/engine"
)

// templateFile is the YAML shape used by template import and export.
type templateFile struct {
	Title       string                    `yaml:"title"`
	Description string                    `yaml:"description"`
	Questions   []authoring.QuestionDraft `yaml:"questions"`
}

func readTemplateFile(path string) (*authoring.Draft, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tf templateFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("invalid template yaml: %w", err)
	}
	return authoring.FromQuestions(tf.Title, tf.Description, tf.Questions), nil
}

func templateCmd() *cobra.Command {
	tmpl := &cobra.Command{Use: "template", Short: "Manage report templates"}
	tmpl.AddCommand(templateListCmd())
	tmpl.AddCommand(templateShowCmd())
	tmpl.AddCommand(templateImportCmd())
	tmpl.AddCommand(templateExportCmd())
	tmpl.AddCommand(templateDeleteCmd())
	return tmpl
}

func templateListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListTemplates(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Title", "Questions", "Updated")
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Title, t.QuestionCount, t.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func templateShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a template and its questions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetTemplate(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Printf("%s  %s\n%s\n\n", t.ID, t.Title, t.Description)
				tw := newTable("#", "Question", "Type", "Required", "Options")
				for i, q := range domain.SortedQuestions(&t) {
					tw.AppendRow(table.Row{i + 1, q.Text, q.Type, q.Required, strings.Join(q.Options, ", ")})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func templateImportCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "import <file.yml>",
		Short: "Create a template from YAML, or replace one with --id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := readTemplateFile(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var t domain.Template
				if id != "" {
					t, err = e.UpdateTemplate(ctx, id, d)
				} else {
					t, err = e.CreateTemplate(ctx, d)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Printf("Template %s saved with %d questions\n", t.ID, len(t.Questions))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "existing template to replace")
	return cmd
}

func templateExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Write a template as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetTemplate(ctx, args[0])
				if err != nil {
					return err
				}
				d := authoring.FromTemplate(&t)
				data, err := yaml.Marshal(templateFile{Title: d.Title, Description: d.Description, Questions: d.Drafts()})
				if err != nil {
					return err
				}
				if out == "" || out == "-" {
					_, err = os.Stdout.Write(data)
					return err
				}
				if err := os.WriteFile(out, data, 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default stdout)")
	return cmd
}

func templateDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a template with no reports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteTemplate(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Deleted template %s\n", args[0])
				return nil
			})
		},
	}
}

func storeCmd() *cobra.Command {
	store := &cobra.Command{Use: "store", Short: "Manage stores"}
	store.AddCommand(storeCreateCmd())
	store.AddCommand(storeListCmd())
	store.AddCommand(storeAssignCmd())
	store.AddCommand(storeDeleteCmd())
	return store
}

func storeCreateCmd() *cobra.Command {
	var in engine.StoreInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.CreateStore(ctx, in)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("Store %s created (%s)\n", s.ID, s.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "store name")
	cmd.Flags().StringVar(&in.Location, "location", "", "store location")
	cmd.Flags().StringVar(&in.Manager, "manager", "", "store manager")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func storeListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stores",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				stores, err := e.ListStores(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(stores)
				}
				tw := newTable("ID", "Name", "Location", "Manager")
				for _, s := range stores {
					tw.AppendRow(table.Row{s.ID, s.Name, s.Location, s.Manager})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func storeAssignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assign <store-id> <template-id>",
		Short: "Assign a template, creating a pending report",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.AssignTemplate(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(r)
				}
				fmt.Printf("Pending report %s created for store %s\n", r.ID, r.StoreID)
				return nil
			})
		},
	}
}

func storeDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a store and its reports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteStore(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Deleted store %s\n", args[0])
				return nil
			})
		},
	}
}
