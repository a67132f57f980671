package gen

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"

	"github.com/luma/conduit/internal/meta"
)

var (
	manDir string
)

var ManPagesCmd = &cobra.Command{
	Use:   "man",
	Short: "Generate man pages for conduit",
	Long: `This command automatically generates up-to-date man pages of the
	conduit commands.  By default, it creates the man page files
	in the "man" directory under the current directory.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		header := &doc.GenManHeader{
			Section: "1",
			Manual:  "Conduit Manual",
			Source:  fmt.Sprintf("conduit %s", meta.Version),
		}

		dir, err := prepareDir(manDir)
		if err != nil {
			return err
		}

		cmd.Root().DisableAutoGenTag = true

		fmt.Println("Generating conduit man pages in", dir, "...")

		if err := doc.GenManTree(cmd.Root(), header, dir); err != nil {
			return err
		}

		fmt.Println("Done.")

		return nil
	},
}

func init() {
	dirFlag(ManPagesCmd, &manDir, "man/", "the directory to write the man pages.")
}
