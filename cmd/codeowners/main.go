// Package main provides the codeowners command, which regenerates or checks
// the CODEOWNERS file from integration manifests.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-camera/internal/codeowners"
)

// errProblems is returned when generation or validation reported problems.
var errProblems = errors.New("codeowners validation failed")

// App holds the CLI state.
type App struct {
	root         string
	integrations []string
	rootCmd      *cobra.Command
}

// NewApp builds the command tree.
func NewApp() *App {
	app := &App{}
	app.rootCmd = &cobra.Command{
		Use:           "codeowners",
		Short:         "Generate and validate CODEOWNERS from integration manifests",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	app.rootCmd.PersistentFlags().StringVar(&app.root, "root", ".", "repository root")
	app.rootCmd.PersistentFlags().StringSliceVar(&app.integrations, "integration", nil,
		"only process these integrations (skips the file comparison)")

	app.rootCmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Write CODEOWNERS",
		RunE:  app.runGenerate,
	})
	app.rootCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check CODEOWNERS is up to date",
		RunE:  app.runValidate,
	})
	return app
}

// Execute runs the CLI with args.
func (a *App) Execute(args []string) error {
	a.rootCmd.SetArgs(args)
	return a.rootCmd.Execute()
}

func (a *App) build(out io.Writer) (string, error) {
	integrations, err := codeowners.LoadIntegrations(a.root, a.integrations...)
	if err != nil {
		return "", err
	}
	content, problems := codeowners.Generate(integrations, a.root)
	if report(out, problems) {
		return "", errProblems
	}
	return content, nil
}

func (a *App) runGenerate(cmd *cobra.Command, _ []string) error {
	content, err := a.build(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if len(a.integrations) > 0 {
		return errors.New("refusing to write CODEOWNERS from a subset of integrations")
	}
	if err := codeowners.Write(content, a.root); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "CODEOWNERS updated")
	return nil
}

func (a *App) runValidate(cmd *cobra.Command, _ []string) error {
	content, err := a.build(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if report(cmd.ErrOrStderr(), codeowners.Validate(content, a.root, len(a.integrations) > 0)) {
		return errProblems
	}
	fmt.Fprintln(cmd.OutOrStdout(), "CODEOWNERS is up to date")
	return nil
}

// report prints problems and returns whether there were any.
func report(out io.Writer, problems []codeowners.Problem) bool {
	for _, p := range problems {
		suffix := ""
		if p.Fixable {
			suffix = " (fixable)"
		}
		fmt.Fprintf(out, "%s%s\n", p.Error(), suffix)
	}
	return len(problems) > 0
}

func main() {
	if err := NewApp().Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
