package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/codalotl/driveqa/internal/docrepo"
)

func newFilesCmd(global *globalOptions) *cobra.Command {
	var folder string
	var limit int
	var asJSON bool
	cmd := silenceUsageAndErrors(&cobra.Command{
		Use:   "files",
		Short: "List files in a folder, or recent files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(global)
			if err != nil {
				return err
			}
			repo, err := a.repository()
			if err != nil {
				return err
			}
			files, err := repo.List(cmd.Context(), folder, limit)
			if err != nil {
				return err
			}
			return printFiles(cmd.OutOrStdout(), files, asJSON)
		},
	})
	cmd.Flags().StringVar(&folder, "folder", "", "folder ID (default: recent files)")
	cmd.Flags().IntVar(&limit, "limit", docrepo.ListLimit, "maximum files")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newSearchCmd(global *globalOptions) *cobra.Command {
	var limit int
	var asJSON bool
	cmd := silenceUsageAndErrors(&cobra.Command{
		Use:   "search <query>",
		Short: "Search files by name or content",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.TrimSpace(strings.Join(args, " "))
			if query == "" {
				return fmt.Errorf("invalid argument: empty query")
			}
			a, err := loadApp(global)
			if err != nil {
				return err
			}
			repo, err := a.repository()
			if err != nil {
				return err
			}
			files, err := repo.Search(cmd.Context(), query, min(max(limit, 1), docrepo.MaxSearchResults))
			if err != nil {
				return err
			}
			return printFiles(cmd.OutOrStdout(), files, asJSON)
		},
	})
	cmd.Flags().IntVar(&limit, "limit", docrepo.DefaultSearchResults, "maximum results")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printFiles(w io.Writer, files []docrepo.File, asJSON bool) error {
	if asJSON {
		if files == nil {
			files = []docrepo.File{}
		}
		return writeJSON(w, files)
	}
	if len(files) == 0 {
		_, err := fmt.Fprintln(w, "No files found.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE")
	for _, f := range files {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", f.ID, f.Name, f.MimeType)
	}
	return tw.Flush()
}
