package protocol

// Reason причина отклонения команды или отказа операции
type Reason string

const (
	ReasonMalformedMessage     Reason = "MalformedMessage"
	ReasonForbiddenForRole     Reason = "ForbiddenForRole"
	ReasonInvalidActionForState Reason = "InvalidActionForState"
	ReasonOutOfRangeParameter  Reason = "OutOfRangeParameter"
	ReasonStorageUnavailable   Reason = "StorageUnavailable"
	ReasonStorageReadError     Reason = "StorageReadError"
	ReasonSlowConsumer         Reason = "SlowConsumer"
	ReasonSchedulerDestroyed   Reason = "SchedulerDestroyed"
)

// Rejection локальный отказ команды: не меняет общее состояние сессии
// и возвращается синхронно отправившему зрителю.
type Rejection struct {
	Reason Reason
	Detail string
}

// NewRejection создает отказ с причиной и пояснением
func NewRejection(reason Reason, detail string) *Rejection {
	return &Rejection{Reason: reason, Detail: detail}
}

// Error реализует error
func (r *Rejection) Error() string {
	if r.Detail == "" {
		return string(r.Reason)
	}
	return string(r.Reason) + ": " + r.Detail
}
