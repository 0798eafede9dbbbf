package models

// Нормализованные статусы внешнего сервиса (словарь у него свой и может
// расширяться, поэтому raw-значение всегда сохраняем рядом).
const (
	RemoteStatusPending            = "pending"
	RemoteStatusApproved           = "approved"
	RemoteStatusProcessing         = "processing"
	RemoteStatusPartiallyAvailable = "partially_available"
	RemoteStatusAvailable          = "available"
	RemoteStatusDeclined           = "declined"
	RemoteStatusCancelled          = "cancelled"
)

var remoteToLocal = map[string]string{
	RemoteStatusPending:            RequestStatusPending,
	RemoteStatusApproved:           RequestStatusApproved,
	RemoteStatusProcessing:         RequestStatusProcessing,
	RemoteStatusPartiallyAvailable: RequestStatusPartiallyAvailable,
	RemoteStatusAvailable:          RequestStatusCompleted,
	RemoteStatusDeclined:           RequestStatusDeclined,
	RemoteStatusCancelled:          RequestStatusCancelled,
}

// MapRemoteStatus переводит нормализованный удалённый статус в локальный.
// Неизвестные значения не теряем молча: ok=false, дальше запись помечает
// аудитор как ANOMALOUS.
func MapRemoteStatus(remote string) (string, bool) {
	local, ok := remoteToLocal[remote]
	return local, ok
}
