package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/pitabwire/coachbuilder/internal/capability"
	"github.com/pitabwire/coachbuilder/internal/draft"
	"github.com/pitabwire/coachbuilder/internal/ruleset"
	"github.com/pitabwire/coachbuilder/internal/transfer"
	"github.com/pitabwire/coachbuilder/model"
)

// errInvalid is returned when at least one document failed validation. The
// problems themselves have already been printed.
var errInvalid = errors.New("validation failed")

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "rulectl",
		Short:         "Motion rule set tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(validateCmd(), migrateCmd(), schemaCmd(), exportCmd(), importCmd())
	return cmd
}

func validateCmd() *cobra.Command {
	var catalog, metrics string

	cmd := &cobra.Command{
		Use:   "validate FILE...",
		Short: "Validate rule set documents",
		Long: `Validate checks each document and prints one line per problem as
"file: path: code". With --catalog, documents are also checked against the
capability profile they name.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := transfer.ImportOptions{}
			if catalog != "" {
				res, err := capability.NewResolver(capability.FileSource{CapabilityPath: catalog, MetricPath: metrics}, 0)
				if err != nil {
					return err
				}
				opts.Profiles = res
			}

			out := cmd.OutOrStdout()
			failed := false
			for _, path := range args {
				errs, err := validateFile(path, opts)
				if err != nil {
					return err
				}
				if len(errs) == 0 {
					fmt.Fprintf(out, "%s: ok\n", path)
					continue
				}
				failed = true
				for _, e := range errs {
					fmt.Fprintf(out, "%s: %s\n", path, e.Error())
				}
			}
			if failed {
				return errInvalid
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&catalog, "catalog", "", "capability catalog file (YAML or JSON)")
	cmd.Flags().StringVar(&metrics, "metrics", "", "metric catalog file (YAML or JSON)")
	return cmd
}

func validateFile(path string, opts transfer.ImportOptions) ([]model.ValidationError, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rs, shapeErrs, err := ruleset.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ruleset.MergeShapeErrors(shapeErrs, transfer.Validate(rs, opts)), nil
}

func migrateCmd() *cobra.Command {
	var (
		output string
		opts   ruleset.MigrationOptions
	)

	cmd := &cobra.Command{
		Use:   "migrate FILE",
		Short: "Upgrade a schema v1 document to v2",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			rs, shapeErrs, err := ruleset.Decode(data)
			if err != nil {
				return err
			}
			if len(shapeErrs) > 0 {
				return ruleset.Errors(shapeErrs)
			}

			migrated, report, err := ruleset.MigrateV1ToV2(rs, opts)
			if err != nil {
				return err
			}
			doc, err := transfer.Marshal(migrated)
			if err != nil {
				return err
			}
			if err := writeOutput(cmd.OutOrStdout(), output, doc); err != nil {
				return err
			}
			return writeJSON(cmd.ErrOrStderr(), report)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the migrated document here instead of stdout")
	cmd.Flags().StringVar(&opts.ProfileID, "profile-id", model.DefaultProfileID, "metric profile id to bind")
	cmd.Flags().StringVar(&opts.ProfileType, "profile-type", model.ProfileTypeGeneric, "metric profile type (generic or preset)")
	cmd.Flags().StringVar(&opts.PresetID, "preset-id", "", "preset id for preset profiles (default <sport>_starter)")
	return cmd
}

func schemaCmd() *cobra.Command {
	var (
		output string
		whole  bool
	)

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the rule set document schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var v any = ruleset.JSONSchema()
			if whole {
				v = ruleset.SchemaDocument()
			}
			data, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), output, append(data, '\n'))
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the schema here instead of stdout")
	cmd.Flags().BoolVar(&whole, "openapi", false, "print the OpenAPI document with every component schema")
	return cmd
}

func exportCmd() *cobra.Command {
	var (
		output string
		strict bool
	)

	cmd := &cobra.Command{
		Use:   "export DRAFT",
		Short: "Render an editable draft as a rule set document",
		Long: `Export reads a draft as JSON and prints the rule set document it maps to.
Draft text that cannot be parsed is replaced by its default and reported on
stderr; --strict refuses such drafts instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var d draft.CoachDraft
			if err := json.Unmarshal(data, &d); err != nil {
				return fmt.Errorf("%s: decoding draft: %w", args[0], err)
			}

			out, err := transfer.Export(d, transfer.ExportOptions{Strict: strict})
			for _, issue := range out.Issues {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", issue.Error())
			}
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), output, out.Data)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the document here instead of stdout")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail when draft text would be replaced by defaults")
	return cmd
}

func importCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Turn a rule set document into an editable draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			res, err := transfer.Import(data, transfer.ImportOptions{})
			if err != nil {
				return err
			}
			if !res.Accepted() {
				for _, e := range res.Errors {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], e.Error())
				}
				return errInvalid
			}

			if len(res.Report.DroppedRules) > 0 || len(res.Report.SynthesizedCheckpoints) > 0 {
				if err := writeJSON(cmd.ErrOrStderr(), res.Report); err != nil {
					return err
				}
			}
			body, err := json.MarshalIndent(res.Draft, "", "  ")
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), output, append(body, '\n'))
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the draft here instead of stdout")
	return cmd
}

func writeOutput(stdout io.Writer, path string, data []byte) error {
	if path == "" {
		_, err := stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
