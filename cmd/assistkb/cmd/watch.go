package cmd

import (
	"github.com/spf13/cobra"

	"github.com/saagar210/AssistSupport-sub002/internal/output"
	"github.com/saagar210/AssistSupport-sub002/internal/source"
)

func newWatchCmd(a *app) *cobra.Command {
	var sources []string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep folder sources indexed as files change",
		Long: `Run a catch-up pass over every folder source, then watch the folders and
re-ingest the smallest changed subtree after each burst of changes.

Native filesystem events are used where available, with polling as fallback
(force it with watcher.force_polling). Lost subscriptions are re-established
with exponential backoff. URL sources are skipped. Stop with Ctrl-C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defs, err := a.definitions(sources)
			if err != nil {
				return err
			}
			k, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = k.Close() }()

			out := output.New(cmd.OutOrStdout())
			for _, d := range defs {
				if d.Type == source.TypeFolder {
					out.Statusf("👀", "Watching %s (namespace %s)", d.Location, d.Namespace)
				}
			}
			if err := k.Watch(cmd.Context(), defs); err != nil {
				return err
			}
			out.Success("Stopped")
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&sources, "source", "s", nil, "Source definition file (repeatable; default ingest.sources)")
	return cmd
}
