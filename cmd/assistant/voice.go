package main

import (
	"fmt"

	"github.com/pysugar/assistant/internal/client/app"
	"github.com/spf13/cobra"
)

var voiceSpeak string

var voiceCmd = &cobra.Command{
	Use:   "voice",
	Short: "Voice interaction",
}

var voiceListenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Listen for one request and answer it",
	Long: `Record one utterance with voice.stt_command, send it as a chat message and
print the reply. The reply is spoken with voice.tts_command when auto_speak is
on in settings, or when --speak=true is given.`,
	Args: cobra.NoArgs,
	RunE: withApp(runVoiceListen),
}

var voiceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which voice features are available",
	Args:  cobra.NoArgs,
	RunE:  withApp(runVoiceStatus),
}

func init() {
	voiceListenCmd.Flags().StringVar(&voiceSpeak, "speak", "", "Speak the reply (true/false, default from settings)")
	voiceCmd.AddCommand(voiceListenCmd, voiceStatusCmd)
}

func runVoiceListen(cmd *cobra.Command, args []string, a *app.App) error {
	speak, err := shouldSpeak(cmd, a)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "🎙️ Listening...")
	transcript, reply, err := a.VoiceTurn(cmd.Context(), speak)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "you: %s\nassistant: %s\n", transcript, reply)
	a.Chat().Wait()
	return nil
}

func shouldSpeak(cmd *cobra.Command, a *app.App) (bool, error) {
	switch voiceSpeak {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "":
	default:
		return false, fmt.Errorf("--speak must be true or false, got %q", voiceSpeak)
	}
	settings, err := a.Backend().GetSettings(cmd.Context())
	if err != nil {
		return false, err
	}
	return settings.AutoSpeak, nil
}

func runVoiceStatus(cmd *cobra.Command, args []string, a *app.App) error {
	p := a.Voice()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "speech recognition: %s\n", availability(p.Recognizer.Available()))
	fmt.Fprintf(out, "speech synthesis:   %s\n", availability(p.Speaker.Available()))
	fmt.Fprintf(out, "notifications:      %s\n", availability(p.Notifier.Available()))
	return nil
}

func availability(ok bool) string {
	if ok {
		return "available"
	}
	return "unsupported"
}
