package engine

type ApplicationConfig struct {
	// The application name handed to the graphics backend.
	Name string
	// Initial render resolution.
	StartWidth  uint32
	StartHeight uint32
}
