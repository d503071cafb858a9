package postgres

type Config struct {
	DSN      string
	MaxConns int32
}
