package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mtr002/lm-jobs/internal/app"
	"github.com/mtr002/lm-jobs/internal/interfaces"
	"github.com/mtr002/lm-jobs/internal/jobs"
	"github.com/mtr002/lm-jobs/internal/nats"
)

func newSubmitCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "submit transcription|presentation",
		Short:     "Submit a job over NATS request/reply",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(interfaces.KindTranscription), string(interfaces.KindPresentation)},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd, v, interfaces.Kind(args[0]))
		},
	}
	flags := cmd.Flags()
	flags.String("source", "", "transcription source path or object reference")
	flags.String("file-name", "", "original file name of the source")
	flags.Bool("auto-index", true, "index the transcript once it completes")
	flags.String("topic", "", "presentation topic")
	flags.Int("slides", 0, "number of slides")
	flags.String("template", "", "presentation template")
	flags.String("tone", "", "presentation tone")
	flags.String("language", "", "output language")
	flags.String("user", "", "submitting user id")
	flags.String("subject", "", "course subject")
	flags.Duration("timeout", 10*time.Second, "how long to wait for the reply")
	return cmd
}

func runSubmit(cmd *cobra.Command, v *viper.Viper, kind interfaces.Kind) error {
	cfg, err := app.LoadConfig(cmd, v, serviceName+"-submit")
	if err != nil {
		return err
	}
	conn, err := nats.Connect(cfg.NATS.URL, serviceName+"-submit")
	if err != nil {
		return err
	}
	defer conn.Close()

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	reply, err := submitJob(ctx, nats.NewSubmitClient(conn), kind, cmd)
	if err != nil {
		return err
	}
	return printReply(cmd.OutOrStdout(), reply)
}

// submitJob builds the request for kind from the command flags and sends it.
func submitJob(ctx context.Context, client *nats.SubmitClient, kind interfaces.Kind, cmd *cobra.Command) (*nats.SubmitReply, error) {
	flags := cmd.Flags()
	language, _ := flags.GetString("language")
	user, _ := flags.GetString("user")
	subject, _ := flags.GetString("subject")

	switch kind {
	case interfaces.KindTranscription:
		req := jobs.TranscriptionRequest{Language: language, UserID: user, Subject: subject}
		req.Source, _ = flags.GetString("source")
		req.FileName, _ = flags.GetString("file-name")
		if flags.Changed("auto-index") {
			autoIndex, _ := flags.GetBool("auto-index")
			req.AutoIndex = &autoIndex
		}
		return client.SubmitTranscription(ctx, req)
	case interfaces.KindPresentation:
		req := jobs.PresentationRequest{Language: language, UserID: user, Subject: subject}
		req.Topic, _ = flags.GetString("topic")
		req.NumSlides, _ = flags.GetInt("slides")
		req.Template, _ = flags.GetString("template")
		req.Tone, _ = flags.GetString("tone")
		return client.SubmitPresentation(ctx, req)
	default:
		return nil, fmt.Errorf("unknown job type %q", kind)
	}
}

func printReply(w io.Writer, reply *nats.SubmitReply) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(reply)
}
