package config

// Config is the whole bot configuration. JSON or YAML on disk; all durations
// are Go duration strings (e.g. "500ms", "10s", "5m").
type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Feed       FeedConfig       `json:"feed"`
	Matcher    MatcherConfig    `json:"matcher"`
	Dispatcher DispatcherConfig `json:"dispatcher"`
	Storage    StorageConfig    `json:"storage"`
	Logging    LoggingConfig    `json:"logging"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
	// PromptWindow throttles "please register" prompts per recipient.
	// Default "5m".
	PromptWindow string `json:"prompt_window,omitempty"`
}

type FeedConfig struct {
	URL            string `json:"url"`
	PingInterval   string `json:"ping_interval,omitempty"`
	ReconnectDelay string `json:"reconnect_delay,omitempty"`
}

type MatcherConfig struct {
	// Spec is a cron expression; default "*/5 * * * *" (minute-aligned).
	Spec string `json:"spec,omitempty"`
	// Timezone used for message timestamps (e.g. "Asia/Jakarta").
	Timezone string `json:"timezone,omitempty"`
}

type DispatcherConfig struct {
	Workers     int    `json:"workers,omitempty"`
	QueueSize   int    `json:"queue_size,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./gardenbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}
