package domain

// Logger はロギングのインターフェース.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, err error, fields map[string]interface{})
	Error(msg string, err error, fields map[string]interface{})
}
