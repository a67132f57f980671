package gen

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"
)

var (
	markdownDir string
)

var MarkdownCmd = &cobra.Command{
	Use:   "markdown",
	Short: "Generate markdown reference pages for conduit",
	Long: `Writes one markdown file per conduit command, linked to each other,
	to the "docs" directory under the current directory by default.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := prepareDir(markdownDir)
		if err != nil {
			return err
		}

		cmd.Root().DisableAutoGenTag = true

		fmt.Println("Generating conduit markdown pages in", dir, "...")

		if err := doc.GenMarkdownTree(cmd.Root(), dir); err != nil {
			return err
		}

		fmt.Println("Done.")

		return nil
	},
}

func init() {
	dirFlag(MarkdownCmd, &markdownDir, "docs/", "the directory to write the markdown pages.")
}
