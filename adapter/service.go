package adapter

// Service is the lifecycle shared by long-lived components.
type Service interface {
	Start() error
	Close() error
}
