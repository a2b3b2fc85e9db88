// Package voice runs the voice assistant dialog: greeting, listening,
// submitting the transcript and confirming the reply.
package voice

// State is the dialog phase shown to the user.
type State string

const (
	StateGreeting         State = "greeting"
	StateListening        State = "listening"
	StateProcessing       State = "processing"
	StateReceived         State = "received"
	StateError            State = "error"
	StatePermissionDenied State = "permission-denied"
	StateManualInput      State = "manual-input"
	StateUnsupported      State = "unsupported"
	StateClosed           State = "closed"
)

// Phrases spoken or shown by the dialog.
const (
	GreetingText     = "Hello! How can I help you today?"
	ProcessingText   = "I'm processing your request..."
	ConfirmationText = "System is processing your query and generating response"
	ApologyText      = "I'm sorry, I couldn't process that. Please try again."
	PermissionText   = "Microphone access is blocked. Allow it in your browser and tap retry."
	ManualInputText  = "I'm having trouble hearing you. You can type your question instead."
	UnsupportedText  = "Your browser doesn't support speech recognition. Please use Chrome or Edge for this feature."
)

// Snapshot is the observable dialog state.
type Snapshot struct {
	State       State  `json:"state"`
	Text        string `json:"text"`
	Transcript  string `json:"transcript,omitempty"`
	ManualInput bool   `json:"manualInput"`
	Capturing   bool   `json:"capturing"`
}

func (s State) listening() bool {
	return s == StateListening || s == StateManualInput
}
