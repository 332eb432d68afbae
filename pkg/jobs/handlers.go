package jobs

import (
	"context"

	"github.com/lorehq/lore/pkg/podcast"
	"github.com/lorehq/lore/pkg/protocol"
	"github.com/lorehq/lore/pkg/store"
)

// PodcastGenerator runs one podcast payload to a terminal state.
type PodcastGenerator interface {
	Generate(ctx context.Context, p podcast.Payload, sink protocol.Sink) error
}

// PodcastHandler dispatches podcast.generate jobs. A failing run flips
// the podcast row to FAILED and releases the space lock, so the job must
// not retry behind it.
func PodcastHandler(gen PodcastGenerator) Handler {
	return Handler{
		Kind:        store.JobKindPodcast,
		MaxAttempts: 1,
		Run: func(ctx context.Context, job *store.Job, sink protocol.Sink) error {
			payload, err := podcast.ParsePayload(job.Payload)
			if err != nil {
				return err
			}
			return gen.Generate(ctx, payload, sink)
		},
	}
}
