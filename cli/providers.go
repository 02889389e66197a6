package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/richinex/llmrelay/fallback"
	"github.com/richinex/llmrelay/llm"
)

// ListProviders prints every supported provider with its defaults and
// whether its key is present in the environment.
func ListProviders(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tDEFAULT MODEL\tBASE URL\tKEY VARIABLE\tKEY SET")
	for _, kind := range llm.AllProviderKinds {
		envVar, keySet := "-", "n/a"
		if kind.RequiresAPIKey() {
			envVar = kind.EnvVar()
			keySet = "no"
			if os.Getenv(envVar) != "" {
				keySet = "yes"
			}
		}
		baseURL := kind.DefaultBaseURL()
		if baseURL == "" {
			baseURL = "(sdk)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", kind, kind.DefaultModel(), baseURL, envVar, keySet)
	}
	return tw.Flush()
}

// SaveProfile stores settings under name in the profile database.
func SaveProfile(ctx context.Context, name string, settings fallback.Settings, opts Options) error {
	if _, err := llm.ParseProviderKind(orDefault(settings.Primary, llm.ProviderOpenAI.String())); err != nil {
		return err
	}
	for _, cred := range settings.Additional {
		if _, err := llm.ParseProviderKind(cred.Provider); err != nil {
			return err
		}
	}

	store, release, err := opts.openStore()
	if err != nil {
		return err
	}
	defer release()

	profile, err := store.SaveProfile(ctx, name, settings)
	if err != nil {
		return err
	}
	fmt.Fprintf(opts.out(), "Saved profile %q (%s)\n", profile.Name, profile.ID)
	return nil
}

// ShowProfile prints a saved profile as YAML with API keys masked. With an
// empty name it lists the saved profile names.
func ShowProfile(ctx context.Context, name string, opts Options) error {
	store, release, err := opts.openStore()
	if err != nil {
		return err
	}
	defer release()

	w := opts.out()
	if name == "" {
		profiles, err := store.ListProfiles(ctx)
		if err != nil {
			return err
		}
		if len(profiles) == 0 {
			fmt.Fprintln(w, "No saved profiles")
			return nil
		}
		for _, p := range profiles {
			fmt.Fprintf(w, "%s\t%s\n", p.Name, orDefault(p.Settings.Primary, llm.ProviderOpenAI.String()))
		}
		return nil
	}

	profile, err := store.LoadProfile(ctx, name)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(maskSettings(profile.Settings))
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	fmt.Fprintf(w, "# %s\n%s", profile.Name, data)
	return nil
}

// DeleteProfile removes a saved profile.
func DeleteProfile(ctx context.Context, name string, opts Options) error {
	store, release, err := opts.openStore()
	if err != nil {
		return err
	}
	defer release()

	if err := store.DeleteProfile(ctx, name); err != nil {
		return err
	}
	fmt.Fprintf(opts.out(), "Deleted profile %q\n", name)
	return nil
}

func maskSettings(s fallback.Settings) fallback.Settings {
	s.PrimaryAPIKey = maskKey(s.PrimaryAPIKey)
	creds := make([]fallback.Credential, len(s.Additional))
	for i, c := range s.Additional {
		creds[i] = fallback.Credential{Provider: c.Provider, APIKey: maskKey(c.APIKey)}
	}
	s.Additional = creds
	return s
}

// maskKey keeps the last four characters of keys long enough to hide the rest.
func maskKey(key string) string {
	switch {
	case key == "":
		return ""
	case len(key) <= 8:
		return "****"
	default:
		return "****" + key[len(key)-4:]
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
