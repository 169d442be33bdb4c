package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var shabadCmd = &cobra.Command{
	Use:   "shabad <id>",
	Short: "Fetch a Shabad from the GurbaniNow API",
	Long:  `Fetch and validate a Shabad by id and print its lines and metadata. With --json the raw API document is printed instead.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		doc, err := newClient().FetchHymn(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to fetch Shabad %s: %w", args[0], err)
		}

		if !asJSON {
			printHymn(doc)
			return nil
		}

		var out bytes.Buffer
		if err := json.Indent(&out, doc.Raw, "", "  "); err != nil {
			return fmt.Errorf("error formatting document: %w", err)
		}
		fmt.Println(out.String())
		return nil
	},
}

func init() {
	shabadCmd.Flags().Bool("json", false, "print the raw API document")
}
