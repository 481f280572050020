package models

// LogCategory groups operator-visible session failures.
type LogCategory string

// LogSubCategory refines a LogCategory.
type LogSubCategory string

const (
	CategoryWaitingAtLobby     LogCategory = "WaitingAtLobby"
	CategoryUnsupportedMeeting LogCategory = "UnsupportedMeeting"

	SubCategoryUserDeniedRequest LogSubCategory = "UserDeniedRequest"
	SubCategoryTimeout           LogSubCategory = "Timeout"
	SubCategoryRequiresSignIn    LogSubCategory = "RequiresSignIn"
)

// LogLevel is the severity attached to a backend log entry.
type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelError LogLevel = "error"
)

// StatusUpdate is the body of PATCH /meeting/app/bot/status.
type StatusUpdate struct {
	EventID  string        `json:"eventId,omitempty"`
	BotID    string        `json:"botId,omitempty"`
	Provider Provider      `json:"provider"`
	Status   []StatusToken `json:"status"`
}

// LogEntry is the body of PATCH /meeting/app/bot/log.
type LogEntry struct {
	EventID     string         `json:"eventId,omitempty"`
	BotID       string         `json:"botId,omitempty"`
	Provider    Provider       `json:"provider"`
	Level       LogLevel       `json:"level"`
	Message     string         `json:"message"`
	Category    LogCategory    `json:"category"`
	SubCategory LogSubCategory `json:"subCategory"`
}

// APIResponse is the envelope every bot API endpoint returns.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
