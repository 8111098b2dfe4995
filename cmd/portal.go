package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/lead-entry/internal/config"
	"github.com/sells-group/lead-entry/internal/model"
	"github.com/sells-group/lead-entry/internal/store"
)

// portalFile is the document read by "portal apply".
type portalFile struct {
	Portals []portalEntry `yaml:"portals"`
}

type portalEntry struct {
	TenantID          string             `yaml:"tenant_id"`
	PortalID          string             `yaml:"portal_id"`
	PortalURL         string             `yaml:"portal_url"`
	FieldMapping      model.FieldMapping `yaml:"field_mapping"`
	DefaultValues     map[string]string  `yaml:"default_values"`
	AutoSubmit        *bool              `yaml:"auto_submit"`
	RetryAttempts     *int               `yaml:"retry_attempts"`
	RetryDelayMinutes *int               `yaml:"retry_delay_minutes"`
}

// loadPortalFile decodes and validates every entry. Unknown keys are
// rejected so a typo in a field name does not silently drop a mapping.
func loadPortalFile(r io.Reader, defaults config.PortalConfig) ([]*model.PortalConfig, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f portalFile
	if err := dec.Decode(&f); err != nil {
		return nil, eris.Wrap(err, "portal: decode file")
	}
	if len(f.Portals) == 0 {
		return nil, eris.New("portal: file has no portals")
	}

	cfgs := make([]*model.PortalConfig, 0, len(f.Portals))
	for i, e := range f.Portals {
		c := &model.PortalConfig{
			TenantID:      strings.TrimSpace(e.TenantID),
			PortalID:      strings.TrimSpace(e.PortalID),
			PortalURL:     strings.TrimSpace(e.PortalURL),
			FieldMapping:  e.FieldMapping,
			DefaultValues: e.DefaultValues,
			AutoSubmit:    e.AutoSubmit == nil || *e.AutoSubmit,
		}
		if c.FieldMapping == nil {
			c.FieldMapping = model.FieldMapping{}
		}
		c.RetryAttempts, c.RetryDelayMinutes = defaults.RetrySettings(e.RetryAttempts, e.RetryDelayMinutes)
		if err := c.Validate(); err != nil {
			return nil, eris.Wrapf(err, "portal: entry %d", i+1)
		}
		cfgs = append(cfgs, c)
	}
	return cfgs, nil
}

var portalCmd = &cobra.Command{
	Use:   "portal",
	Short: "Manage tenant portal configurations",
}

var portalFilePath string

var portalApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Create or update portal configurations from a YAML file",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(portalFilePath)
		if err != nil {
			return eris.Wrapf(err, "read %s", portalFilePath)
		}
		cfgs, err := loadPortalFile(bytes.NewReader(raw), cfg.Portal)
		if err != nil {
			return err
		}

		return withStore(cmd.Context(), func(st store.Store) error {
			for _, c := range cfgs {
				saved, err := st.UpsertPortalConfig(cmd.Context(), c)
				if err != nil {
					return eris.Wrapf(err, "save portal %s/%s", c.TenantID, c.PortalID)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s/%s (id %s)\n", saved.TenantID, saved.PortalID, saved.ID)
			}
			return nil
		})
	},
}

var portalTenant string

var portalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a tenant's portal configurations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if portalTenant == "" {
			return eris.New("--tenant is required")
		}
		return withStore(cmd.Context(), func(st store.Store) error {
			cfgs, err := st.ListPortalConfigs(cmd.Context(), portalTenant)
			if err != nil {
				return err
			}
			return printPortals(cmd.OutOrStdout(), cfgs)
		})
	},
}

func printPortals(out io.Writer, cfgs []model.PortalConfig) error {
	if len(cfgs) == 0 {
		fmt.Fprintln(out, "no portal configurations")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPORTAL\tACTIVE\tAUTO\tRETRIES\tDELAY\tURL\tFIELDS")
	for _, c := range cfgs {
		keys := make([]string, 0, len(c.FieldMapping))
		for k := range c.FieldMapping {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%d\t%dm\t%s\t%s\n",
			c.ID, c.PortalID, c.IsActive, c.AutoSubmit, c.RetryAttempts, c.RetryDelayMinutes,
			c.PortalURL, strings.Join(keys, ","))
	}
	return w.Flush()
}

var portalConfigID string

var portalDeactivateCmd = &cobra.Command{
	Use:   "deactivate",
	Short: "Deactivate a portal configuration (history is kept)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if portalTenant == "" || portalConfigID == "" {
			return eris.New("--tenant and --id are required")
		}
		return withStore(cmd.Context(), func(st store.Store) error {
			if err := st.DeactivatePortalConfig(cmd.Context(), portalTenant, portalConfigID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deactivated %s\n", portalConfigID)
			return nil
		})
	},
}

func init() {
	portalApplyCmd.Flags().StringVarP(&portalFilePath, "file", "f", "portals.yaml", "portal configuration file")
	portalListCmd.Flags().StringVar(&portalTenant, "tenant", "", "tenant id")
	portalDeactivateCmd.Flags().StringVar(&portalTenant, "tenant", "", "tenant id")
	portalDeactivateCmd.Flags().StringVar(&portalConfigID, "id", "", "portal configuration id")

	portalCmd.AddCommand(portalApplyCmd, portalListCmd, portalDeactivateCmd)
	rootCmd.AddCommand(portalCmd)
}
