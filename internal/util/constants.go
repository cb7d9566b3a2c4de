package util

const (
	DateFormat = "2006-01-02"
	TimeFormat = "2006-01-02 15:04:05"
)

const (
	DBDriverMySQL    = "mysql"
	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

const (
	StorageNone  = "none"
	StorageMinio = "minio"
)

// EventsChannel is the redis pub/sub channel engine events are published on.
const EventsChannel = "assessment.events"
