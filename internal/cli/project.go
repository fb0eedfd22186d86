package cli

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/0MATRIX0/agent-connect/internal/db"
	"github.com/0MATRIX0/agent-connect/internal/repository"
)

// newProjectCmd manages the project registry directly in the database, so
// it works whether or not the server is running.
func newProjectCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage the directories sessions can be started in",
	}

	openRepo := func() (*repository.ProjectRepository, func(), error) {
		cfg, err := opts.load()
		if err != nil {
			return nil, nil, err
		}
		database, err := db.InitDB(cfg.DBPath())
		if err != nil {
			return nil, nil, err
		}
		return repository.NewProjectRepository(database), db.ResetDB, nil
	}

	var name string
	add := &cobra.Command{
		Use:   "add <path>",
		Short: "Register a project directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeDB, err := openRepo()
			if err != nil {
				return err
			}
			defer closeDB()

			projectName := name
			if projectName == "" {
				abs, err := filepath.Abs(args[0])
				if err != nil {
					return err
				}
				projectName = filepath.Base(abs)
			}
			p, err := repo.Create(cmd.Context(), projectName, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", p.ID, p.Name, p.Path)
			return nil
		},
	}
	add.Flags().StringVarP(&name, "name", "n", "", "display name (default: directory name)")

	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registered projects",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, closeDB, err := openRepo()
			if err != nil {
				return err
			}
			defer closeDB()

			projects, err := repo.List(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPATH")
			for _, p := range projects {
				fmt.Fprintf(w, "%s\t%s\t%s\n", p.ID, p.Name, p.Path)
			}
			return w.Flush()
		},
	}

	remove := &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"remove"},
		Short:   "Unregister a project; its running sessions are not stopped",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeDB, err := openRepo()
			if err != nil {
				return err
			}
			defer closeDB()

			p, err := repo.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s (%s)\n", p.Name, p.Path)
			return nil
		},
	}

	cmd.AddCommand(add, list, remove)
	return cmd
}
