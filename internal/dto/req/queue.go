package req

type ListQueueRequest struct {
	Status string `form:"status" binding:"omitempty,oneof=pending processing retry done failed"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset int    `form:"offset" binding:"omitempty,min=0"`
}

type QueueEntryURI struct {
	ID int64 `uri:"id" binding:"required,min=1"`
}

type ListLeadsRequest struct {
	Limit  int `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset int `form:"offset" binding:"omitempty,min=0"`
}

type ConversationRequest struct {
	UserKey string `uri:"user_key" binding:"required"`
	Limit   int    `form:"limit" binding:"omitempty,min=1,max=1000"`
}

type ListAuditRequest struct {
	Limit  int `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset int `form:"offset" binding:"omitempty,min=0"`
}
