package app

import (
	"context"
	"encoding/json"

	"github.com/openvideo-live/splicer/pkg/storage"
)

// TranscodeTopic is the queue topic the transcoder pool consumes.
const TranscodeTopic = "transcode"

// defaultBitrates is the rendition ladder requested when an upload
// notification names none.
var defaultBitrates = []int64{600_000, 1_200_000, 2_000_000}

var defaultAudioOnlyBitrates = []int64{128_000}

// TranscodeJob asks the transcoder pool to produce the ad renditions for an
// uploaded source video. Completion is observed through the object store; the
// core only enqueues.
type TranscodeJob struct {
	AdID              string  `json:"adId" doc:"Ad identifier the renditions belong to"`
	SourceKey         string  `json:"sourceKey" doc:"Object-store key of the uploaded source"`
	Bitrates          []int64 `json:"bitrates,omitempty" doc:"Video rendition ladder in bps"`
	AudioOnlyBitrates []int64 `json:"audioOnlyBitrates,omitempty" doc:"Audio-only renditions in bps"`
}

// EnqueueTranscodeJob publishes a job, filling in the default ladder when the
// notification carries none.
func EnqueueTranscodeJob(ctx context.Context, q storage.Queue, job TranscodeJob) error {
	if len(job.Bitrates) == 0 {
		job.Bitrates = defaultBitrates
	}
	if len(job.AudioOnlyBitrates) == 0 {
		job.AudioOnlyBitrates = defaultAudioOnlyBitrates
	}
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.Enqueue(ctx, TranscodeTopic, body)
}
