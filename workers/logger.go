package workers

import "jobharvest/models"

// LogFunc writes a line into the session_logs table.
type LogFunc func(level models.LogLevel, source, message string)

// NoOpLogger does nothing (default).
var NoOpLogger LogFunc = func(level models.LogLevel, source, message string) {}
