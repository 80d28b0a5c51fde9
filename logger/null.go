package logger

// NullLogger discards everything. It is the engine's default so library
// consumers opt into logging explicitly.
type NullLogger struct{}

func NewNullLogger() *NullLogger { return &NullLogger{} }

func (n *NullLogger) Debug(string, ...any) {}
func (n *NullLogger) Info(string, ...any)  {}
func (n *NullLogger) Error(string, ...any) {}
