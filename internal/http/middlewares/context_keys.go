package middlewares

type ctxKey string

// KeyUserID is a typed key for stdlib contexts (actorctx), the rest are
// plain strings for gin's context map.
const (
	KeyUserID ctxKey = "user_id"

	CtxRequestID = "request_id"
	CtxJobID     = "job_id"
)
