package tools

const (
	ToolNameListAccounts = "list_accounts"
	ToolNameListChats    = "list_chats"
	ToolNameUploadMedia  = "upload_media"
	ToolNameSchedulePost = "schedule_post"

	ResourceURIAccounts = "postpulse://accounts"
)
