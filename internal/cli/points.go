package cli

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/HerbHall/rebootguard/internal/attach"
)

var pointsHostVersion string

func init() {
	rootCmd.AddCommand(pointsCmd)
	pointsCmd.Flags().StringVar(&pointsHostVersion, "host-version", "", "Mark points applicable to this host version (default: host.version from config)")
}

type pointDoc struct {
	Chain          string   `yaml:"chain"`
	Location       string   `yaml:"location"`
	Priority       int      `yaml:"priority"`
	Signature      []string `yaml:"signature,flow"`
	MinHostVersion string   `yaml:"min_host_version,omitempty"`
	MaxHostVersion string   `yaml:"max_host_version,omitempty"`
	Applicable     bool     `yaml:"applicable"`
}

type pointsDoc struct {
	HostVersion string     `yaml:"host_version,omitempty"`
	Points      []pointDoc `yaml:"points"`
}

var pointsCmd = &cobra.Command{
	Use:   "points",
	Short: "Print the effective attachment table",
	Long: "Prints the attachment points in the order guards are attempted: chain by\n" +
		"chain, lowest priority first. Points come from the attachments section of\n" +
		"the config, or the built-in table when it is empty.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadSession()
		if err != nil {
			return err
		}
		defer rt.cleanup()

		reg, err := attach.NewRegistry(rt.cfg.Points()...)
		if err != nil {
			return err
		}
		hv := pointsHostVersion
		if hv == "" {
			hv = rt.cfg.Host.Version
		}

		doc := pointsDoc{HostVersion: hv}
		for _, chain := range reg.Chains() {
			for _, p := range reg.Points(chain) {
				doc.Points = append(doc.Points, pointDoc{
					Chain:          p.Chain,
					Location:       p.Location,
					Priority:       p.Priority,
					Signature:      p.Signature,
					MinHostVersion: p.MinHostVersion,
					MaxHostVersion: p.MaxHostVersion,
					Applicable:     p.Supports(hv),
				})
			}
		}

		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	},
}
