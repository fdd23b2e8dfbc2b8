package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pysugar/assistant/internal/client/app"
	"github.com/spf13/cobra"
)

// settingKinds lists the writable settings; true marks boolean values.
var settingKinds = map[string]bool{
	"language":              false,
	"theme":                 false,
	"voice_name":            false,
	"voice_enabled":         true,
	"auto_speak":            true,
	"notifications_enabled": true,
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change preferences",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show current settings",
	Args:  cobra.NoArgs,
	RunE:  withApp(runSettingsGet),
}

var settingsSetCmd = &cobra.Command{
	Use:   "set key=value...",
	Short: "Change one or more settings",
	Long: `Change settings. Keys: language, theme, voice_name, voice_enabled,
auto_speak, notifications_enabled.`,
	Args: cobra.MinimumNArgs(1),
	RunE: withApp(runSettingsSet),
}

func init() {
	settingsCmd.AddCommand(settingsGetCmd, settingsSetCmd)
}

func runSettingsGet(cmd *cobra.Command, args []string, a *app.App) error {
	s, err := a.Backend().GetSettings(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "language=%s\n", s.Language)
	fmt.Fprintf(out, "theme=%s\n", s.Theme)
	fmt.Fprintf(out, "voice_name=%s\n", s.VoiceName)
	fmt.Fprintf(out, "voice_enabled=%t\n", s.VoiceEnabled)
	fmt.Fprintf(out, "auto_speak=%t\n", s.AutoSpeak)
	fmt.Fprintf(out, "notifications_enabled=%t\n", s.NotificationsEnabled)
	return nil
}

func parseSettingArgs(args []string) (map[string]interface{}, error) {
	fields := make(map[string]interface{}, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		isBool, known := settingKinds[key]
		if !known {
			keys := make([]string, 0, len(settingKinds))
			for k := range settingKinds {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			return nil, fmt.Errorf("unknown setting %q (known: %s)", key, strings.Join(keys, ", "))
		}
		if !isBool {
			fields[key] = strings.TrimSpace(value)
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("setting %s: %w", key, err)
		}
		fields[key] = b
	}
	return fields, nil
}

func runSettingsSet(cmd *cobra.Command, args []string, a *app.App) error {
	fields, err := parseSettingArgs(args)
	if err != nil {
		return err
	}
	if _, err := a.Backend().PutSettings(cmd.Context(), fields); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "⚙️ Settings saved")
	return nil
}
