package pipeline

// State is a pipeline checkpoint. A run moves forward through these in
// order; FieldsIncomplete and VisionFallbackApplied are visited only when
// OCR left a field empty.
type State string

const (
	StateReceived              State = "received"
	StateTemplateMatched       State = "template-matched"
	StateRegionsExtracted      State = "regions-extracted"
	StateFieldsRecognized      State = "fields-recognized"
	StateFieldsIncomplete      State = "fields-incomplete"
	StateVisionFallbackApplied State = "vision-fallback-applied"
	StateTimestampResolved     State = "timestamp-resolved"
	StateFeedResolved          State = "feed-resolved"
	StateAudioDownloaded       State = "audio-downloaded"
	StateSnippetExtracted      State = "snippet-extracted"
	StateTranscribed           State = "transcribed"
	StateCompleted             State = "completed"
	StateFailed                State = "failed"
)

// trace records the states a run passed through.
type trace struct {
	states []State
}

func (t *trace) enter(s State) { t.states = append(t.states, s) }

func (t *trace) current() State {
	if len(t.states) == 0 {
		return StateReceived
	}
	return t.states[len(t.states)-1]
}
