package browser

// Viewport defines the browser window size.
type Viewport struct {
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	DeviceScaleFactor float64 `json:"device_scale_factor,omitempty"`
}

// PageInfo is a best-effort snapshot of the active page.
type PageInfo struct {
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
}

// ActionType represents the supported browser actions.
type ActionType string

const (
	ActionNavigate ActionType = "navigate"
	ActionClick    ActionType = "click"
	ActionTypeText ActionType = "type"
	ActionScroll   ActionType = "scroll"
	ActionKey      ActionType = "key"
)

// InteractiveSelector matches the elements an agent may address by
// index. Page summaries and input dispatch both walk the document with
// this selector so their indices agree.
const InteractiveSelector = `a, button, input, textarea, select, [role=button], [onclick]`

// Action is an agent request for a browser action. Index addresses an
// interactive element from the most recent page summary.
type Action struct {
	Type   ActionType `json:"type"`
	URL    string     `json:"url,omitempty"`
	Index  int        `json:"index,omitempty"`
	Text   string     `json:"text,omitempty"`
	Key    string     `json:"key,omitempty"`
	DeltaY int        `json:"delta_y,omitempty"`
}

// SessionConfig configures a browser session.
type SessionConfig struct {
	SessionID          string   `json:"session_id"`
	InitialURL         string   `json:"initial_url,omitempty"`
	Viewport           Viewport `json:"viewport"`
	UserAgent          string   `json:"user_agent,omitempty"`
	Locale             string   `json:"locale,omitempty"`
	Headless           bool     `json:"headless"`
	DemoMode           bool     `json:"demo_mode"`
	RecordVideo        bool     `json:"record_video"`
	VideoDir           string   `json:"video_dir,omitempty"`
	CaptureScreenshots bool     `json:"capture_screenshots"`
	ScreenshotsDir     string   `json:"screenshots_dir,omitempty"`
}

// DefaultSessionConfig returns the recommended session defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Viewport: Viewport{
			Width:             1280,
			Height:            1100,
			DeviceScaleFactor: 1.0,
		},
		Headless:           true,
		CaptureScreenshots: true,
	}
}
