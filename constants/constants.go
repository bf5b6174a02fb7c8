// Package constants holds user-visible message strings shared by the
// server handlers and the chat client.
package constants

// Server replies.
const (
	MessageNewUser         = "New user created!"
	MessageWelcomeBack     = "Welcome back!"
	MessageClearedHistory  = "Cleared %d conversations"
	MessageHistoryNotSaved = "Response generated but conversation history could not be saved."

	ErrNameRequired       = "Name is required"
	ErrUserNotFound       = "User not found"
	ErrLoginFailed        = "Failed to create user"
	ErrFetchUser          = "Failed to get user"
	ErrFetchModels        = "Failed to fetch models"
	ErrGenerate           = "Failed to generate response"
	ErrStream             = "Failed to stream response"
	ErrClearConversations = "Failed to clear conversations"
	ErrInvalidBody        = "Invalid request body"
)

// Client notices.
const (
	NoticeSelectModelFirst = "Select a model before attaching an image."
	NoticeModelNoImages    = "Model '%s' does not support images."
	NoticeImageCleared     = "Model '%s' does not support images; the attached image was removed."
	NoticeNotAnImage       = "'%s' is not an image: %v"
	NoticeImageTooLarge    = "'%s' is too large: %v (limit %s)"
	NoticeImageReadFailed  = "Could not read '%s': %v"
	NoticeChatCleared      = "Chat cleared. Select a model and start a new conversation."
	NoticeHistoryFailed    = "Could not load previous conversations: %v"
	NoticeModelsFailed     = "Could not load models: %v"
	NoticeNoResponse       = "No response from model"
)

// Health values.
const (
	StatusHealthy     = "healthy"
	StatusUnhealthy   = "unhealthy"
	StateConnected    = "connected"
	StateDisconnected = "disconnected"
)
