package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teemow/edulab/internal/session"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read and change client preferences",
	}
	cmd.AddCommand(newConfigGetCmd(), newConfigSetCmd())
	return cmd
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "get [key]",
		Short:     "Print one preference, or all of them",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: session.PreferenceKeys,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := session.NewPreferencesStore()
			if err != nil {
				return err
			}
			prefs, err := store.Load()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				value, err := prefs.Get(args[0])
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(out, value)
				return nil
			}

			for _, key := range session.PreferenceKeys {
				value, _ := prefs.Get(key)
				_, _ = fmt.Fprintf(out, "%s=%s\n", key, value)
			}
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "set <key> <value>",
		Short:     "Change a preference",
		Args:      cobra.ExactArgs(2),
		ValidArgs: session.PreferenceKeys,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := session.NewPreferencesStore()
			if err != nil {
				return err
			}
			return setPreference(store, args[0], args[1])
		},
	}
}

func setPreference(store *session.PreferencesStore, key, value string) error {
	prefs, err := store.Load()
	if err != nil {
		pterm.Warning.Printfln("Existing preferences could not be read, starting from defaults: %v", err)
	}
	if err := prefs.Set(key, value); err != nil {
		return err
	}
	if err := store.Save(prefs); err != nil {
		return err
	}
	pterm.Success.Printfln("%s set to %s", key, value)
	return nil
}
