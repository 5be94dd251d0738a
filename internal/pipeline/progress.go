package pipeline

// Progress checkpoints, in percent.
const (
	ProgressFirstClip            = 10
	ProgressBrollDone            = 60
	ProgressAssetUploaded        = 70
	ProgressCompositionSubmitted = 80
	ProgressArchived             = 90
	ProgressComplete             = 100
)

// BrollProgress returns the progress after done of total clips finished.
// The first clip lands on ProgressFirstClip and the last on
// ProgressBrollDone, with the clips in between spread evenly.
func BrollProgress(done, total int) int {
	if done <= 1 || total <= 1 {
		return ProgressFirstClip
	}
	done = min(done, total)
	return ProgressFirstClip + (done-1)*(ProgressBrollDone-ProgressFirstClip)/(total-1)
}
