package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/accesslens/accesslens/internal/safefile"
	"github.com/accesslens/accesslens/internal/store"
)

// maxFactsBytes caps one connector export.
const maxFactsBytes = 64 << 20

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <facts.json|->",
		Short: "Load a tenant's identities, entitlements, grants and events",
		Long: `Upsert a connector export into the database under --tenant. The file is
a JSON object with any of these arrays:

  identities, applications, entitlements, grants, access_events, profiles

Rows are matched on id; the tenant id in the file is ignored. Run
"accesslens recompute" afterwards to refresh findings.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenantID == "" {
				return fmt.Errorf("--tenant is required (or set %s)", envTenant)
			}
			if serverURL != "" {
				return errors.New("import writes to the database directly; drop --server")
			}

			facts, err := readFacts(cmd, args[0])
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN, newLogger(cfg.Server.LogLevel))
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			counts, err := st.ImportFacts(cmd.Context(), tenantID, facts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if wantJSON(out) {
				return printJSON(out, counts)
			}
			fmt.Fprintf(out, "imported into %s: %d identities, %d applications, %d entitlements, %d grants, %d events, %d profiles\n",
				tenantID, counts.Identities, counts.Applications, counts.Entitlements, counts.Grants, counts.Events, counts.Profiles)
			return nil
		},
	}
}

func readFacts(cmd *cobra.Command, path string) (store.Facts, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(io.LimitReader(cmd.InOrStdin(), maxFactsBytes))
	} else {
		data, err = safefile.ReadFile(path, maxFactsBytes)
	}
	if err != nil {
		return store.Facts{}, err
	}

	var facts store.Facts
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&facts); err != nil {
		return store.Facts{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return facts, nil
}
