package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/erpshell/internal/form"
	"github.com/JonMunkholm/erpshell/internal/schema"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <screen.yaml> <values.json>",
		Short: "Validate a JSON object of field values against a screen's wizard",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := schema.LoadFile(args[0])
			if err != nil {
				return err
			}
			if !sc.HasWizard() {
				return fmt.Errorf("screen %q has no wizard", sc.ID)
			}
			vals, err := readValues(args[1])
			if err != nil {
				return err
			}
			return runValidate(cmd.OutOrStdout(), sc, vals)
		},
	}
}

func readValues(path string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var vals map[string]any
	if err := json.Unmarshal(b, &vals); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return vals, nil
}

func runValidate(out io.Writer, sc *schema.Screen, vals map[string]any) error {
	wz := form.New(sc.Steps, sc.WizardOptions(form.Options{}), form.Callbacks{})
	defer wz.Dispose()

	// Dependencies resolve as values are set, so follow declaration order.
	names := make([]string, 0, len(vals))
	for name := range vals {
		if _, ok := wz.Field(name); !ok {
			return fmt.Errorf("%w: %s", form.ErrUnknownField, name)
		}
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		sa, _ := wz.FieldStep(a)
		sb, _ := wz.FieldStep(b)
		if sa != sb {
			return sa - sb
		}
		return fieldIndex(sc.Steps[sa], a) - fieldIndex(sc.Steps[sb], b)
	})
	for _, name := range names {
		if err := wz.SetFieldValue(name, vals[name]); err != nil {
			return err
		}
	}

	if wz.ValidateAll() < 0 {
		_, err := fmt.Fprintf(out, "%s: all fields valid\n", sc.ID)
		return err
	}

	snap := wz.Snapshot()
	for _, st := range sc.Steps {
		for _, f := range st.Fields {
			if msg, bad := snap.Errors[f.Name]; bad {
				fmt.Fprintf(out, "%s.%s: %s\n", st.ID, f.Name, msg)
			}
		}
	}
	return fmt.Errorf("%s: %d invalid field(s)", sc.ID, len(snap.Errors))
}

func fieldIndex(st form.Step, name string) int {
	return slices.IndexFunc(st.Fields, func(f form.FieldSpec) bool { return f.Name == name })
}
