package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

var locationsCmd = &cobra.Command{
	Use:   "locations [text...]",
	Short: "Resolve location strings, or list the location hierarchy",
	Long: `With arguments, resolves each one to a location key the same way
extraction does. Without arguments, prints the location hierarchy.`,
	RunE: runLocations,
}

func init() {
	rootCmd.AddCommand(locationsCmd)
}

func runLocations(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	h, err := a.hierarchy()
	if err != nil {
		return err
	}

	if len(args) == 0 {
		for _, key := range h.Keys() {
			node, _ := h.Node(key)
			cmd.Printf("%s%s (%s)\n", strings.Repeat("  ", h.Depth(key)), node.DisplayName, key)
		}
		return nil
	}

	n := a.normalizer(h)
	for _, raw := range args {
		key, err := n.Normalize(raw)
		if err != nil {
			cmd.Printf("%q → uncategorised\n", raw)
			continue
		}
		cmd.Printf("%q → %s\n", raw, key)
	}
	return nil
}
